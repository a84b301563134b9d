// confirmgrpcd serves confirmation lookups over gRPC for dev and test
// setups that have no Bitcoin node. Confirmations are fed from a seed file
// with one "txid" or "txid:depth" per line, re-read periodically so a
// running daemon picks up new lines.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"

	"xdao.co/sealvault/chain"
	"xdao.co/sealvault/chain/grpcoracle"
)

func main() {
	fs := flag.NewFlagSet("confirmgrpcd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7788", "listen address")
	seedFile := fs.String("confirmations", "", "file with one txid[:depth] per line")
	reload := fs.Duration("reload", 5*time.Second, "seed file reload interval")

	_ = fs.Parse(os.Args[1:])

	oracle := chain.NewStaticOracle()
	if *seedFile != "" {
		if err := loadSeedFile(oracle, *seedFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		go func() {
			for range time.Tick(*reload) {
				if err := loadSeedFile(oracle, *seedFile); err != nil {
					fmt.Fprintf(os.Stderr, "reload: %v\n", err)
				}
			}
		}()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcoracle.RegisterOracleServer(s, &grpcoracle.Server{Oracle: oracle})

	fmt.Fprintf(os.Stderr, "confirmgrpcd listening on %s\n", lis.Addr().String())
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadSeedFile(oracle *chain.StaticOracle, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		txid, depthStr, hasDepth := strings.Cut(line, ":")
		if !hasDepth {
			oracle.See(txid)
			continue
		}
		depth, err := strconv.ParseUint(depthStr, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: bad depth %q", path, depthStr)
		}
		oracle.Confirm(txid, uint32(depth))
	}
	return sc.Err()
}
