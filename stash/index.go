package stash

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/seal"
)

// indexVersion is the current index schema version.
const indexVersion = 1

// The index is the only mutable file in the vault. It references canonical
// blocks by CID and is replaced atomically (write, fsync, rename) on every
// change, so restart recovery sees either the old or the new view, never a
// mix.

type indexFile struct {
	Version   int             `json:"version"`
	Contracts []indexContract `json:"contracts"`
}

type indexContract struct {
	ID          string            `json:"id"`
	Transitions []string          `json:"transitions"`
	Anchors     []indexAnchor     `json:"anchors"`
	Spent       []indexSpent      `json:"spent"`
	Reveals     []indexReveal     `json:"reveals"`
	Live        []indexAllocation `json:"live"`
}

type indexAnchor struct {
	Transition string `json:"transition"`
	Anchor     string `json:"anchor"`
}

type indexSpent struct {
	Seal       string `json:"seal"`
	Transition string `json:"transition"`
}

type indexReveal struct {
	Blind string `json:"blind"`
	Seal  string `json:"seal"`
}

type indexAllocation struct {
	Origin      string `json:"origin"`
	OutputIndex int    `json:"outputIndex"`
	Revealed    bool   `json:"revealed"`
	Seal        string `json:"seal,omitempty"`
	Blind       string `json:"blind,omitempty"`
	Amount      uint64 `json:"amount"`
	Commitment  string `json:"commitment,omitempty"`
}

func (s *Stash) persistIndexLocked() error {
	if s.indexPath == "" {
		return nil
	}

	idx := indexFile{Version: indexVersion}
	for id, st := range s.contracts {
		ic := indexContract{ID: id.String()}
		for _, tid := range st.transitions {
			ic.Transitions = append(ic.Transitions, tid.String())
		}
		for tid, aid := range st.anchors {
			ic.Anchors = append(ic.Anchors, indexAnchor{Transition: tid.String(), Anchor: aid.String()})
		}
		sort.Slice(ic.Anchors, func(i, j int) bool { return ic.Anchors[i].Transition < ic.Anchors[j].Transition })
		for sealKey, tid := range st.spent {
			ic.Spent = append(ic.Spent, indexSpent{Seal: sealKey, Transition: tid.String()})
		}
		sort.Slice(ic.Spent, func(i, j int) bool { return ic.Spent[i].Seal < ic.Spent[j].Seal })
		for blind, revealed := range st.reveals {
			ic.Reveals = append(ic.Reveals, indexReveal{Blind: blind.String(), Seal: revealed.String()})
		}
		sort.Slice(ic.Reveals, func(i, j int) bool { return ic.Reveals[i].Blind < ic.Reveals[j].Blind })
		for _, a := range st.live {
			ia := indexAllocation{
				Origin:      a.Origin.String(),
				OutputIndex: a.OutputIndex,
				Revealed:    a.Revealed,
				Amount:      a.Amount,
			}
			if a.Revealed {
				ia.Seal = a.Seal.String()
			} else {
				ia.Blind = a.Blind.String()
				ia.Commitment = a.Commitment.String()
			}
			ic.Live = append(ic.Live, ia)
		}
		sort.Slice(ic.Live, func(i, j int) bool {
			if ic.Live[i].Origin != ic.Live[j].Origin {
				return ic.Live[i].Origin < ic.Live[j].Origin
			}
			return ic.Live[i].OutputIndex < ic.Live[j].OutputIndex
		})
		idx.Contracts = append(idx.Contracts, ic)
	}
	sort.Slice(idx.Contracts, func(i, j int) bool { return idx.Contracts[i].ID < idx.Contracts[j].ID })

	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.MkdirAll(filepath.Dir(s.indexPath), 0o755); err != nil {
		return err
	}
	tmp := s.indexPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.indexPath)
}

func (s *Stash) loadIndex() error {
	b, err := os.ReadFile(s.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var idx indexFile
	if err := json.Unmarshal(b, &idx); err != nil {
		return fmt.Errorf("stash: corrupt index: %w", err)
	}
	if idx.Version != indexVersion {
		return fmt.Errorf("stash: unsupported index version %d", idx.Version)
	}

	for _, ic := range idx.Contracts {
		id, err := contentid.Parse(ic.ID)
		if err != nil {
			return fmt.Errorf("stash: corrupt index contract id %q: %w", ic.ID, err)
		}
		genesisBytes, err := s.cas.Get(id)
		if err != nil {
			return fmt.Errorf("stash: missing genesis block %s: %w", ic.ID, err)
		}
		genesis, err := contract.Parse(genesisBytes)
		if err != nil {
			return fmt.Errorf("stash: corrupt genesis block %s: %w", ic.ID, err)
		}

		st := &contractState{
			genesis: genesis,
			schema:  genesis.Schema,
			anchors: make(map[cid.Cid]cid.Cid, len(ic.Anchors)),
			spent:   make(map[string]cid.Cid, len(ic.Spent)),
			reveals: make(map[seal.Blind]seal.Revealed, len(ic.Reveals)),
			live:    make(map[string]Allocation, len(ic.Live)),
		}
		for _, ts := range ic.Transitions {
			tid, err := contentid.Parse(ts)
			if err != nil {
				return fmt.Errorf("stash: corrupt index transition id %q: %w", ts, err)
			}
			st.transitions = append(st.transitions, tid)
		}
		for _, ia := range ic.Anchors {
			tid, err := contentid.Parse(ia.Transition)
			if err != nil {
				return err
			}
			aid, err := contentid.Parse(ia.Anchor)
			if err != nil {
				return err
			}
			st.anchors[tid] = aid
		}
		for _, is := range ic.Spent {
			tid, err := contentid.Parse(is.Transition)
			if err != nil {
				return err
			}
			st.spent[is.Seal] = tid
		}
		for _, ir := range ic.Reveals {
			blind, err := seal.ParseBlind(ir.Blind)
			if err != nil {
				return fmt.Errorf("stash: corrupt index reveal: %w", err)
			}
			revealed, err := seal.ParseRevealed(ir.Seal)
			if err != nil {
				return fmt.Errorf("stash: corrupt index reveal: %w", err)
			}
			st.reveals[blind] = revealed
		}
		for _, ia := range ic.Live {
			origin, err := contentid.Parse(ia.Origin)
			if err != nil {
				return err
			}
			alloc := Allocation{
				Origin:      origin,
				OutputIndex: ia.OutputIndex,
				Revealed:    ia.Revealed,
				Amount:      ia.Amount,
			}
			if ia.Revealed {
				alloc.Seal, err = seal.ParseRevealed(ia.Seal)
				if err != nil {
					return fmt.Errorf("stash: corrupt index allocation: %w", err)
				}
			} else {
				alloc.Blind, err = seal.ParseBlind(ia.Blind)
				if err != nil {
					return fmt.Errorf("stash: corrupt index allocation: %w", err)
				}
				alloc.Commitment, err = conceal.ParseCommitment(ia.Commitment)
				if err != nil {
					return fmt.Errorf("stash: corrupt index allocation: %w", err)
				}
			}
			st.live[alloc.Key()] = alloc
		}
		s.contracts[id] = st
	}
	return nil
}
