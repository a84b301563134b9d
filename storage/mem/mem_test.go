package mem_test

import (
	"testing"

	"xdao.co/sealvault/storage"
	"xdao.co/sealvault/storage/mem"
	"xdao.co/sealvault/storage/testkit"
)

func TestMemConformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return mem.New()
	})
}
