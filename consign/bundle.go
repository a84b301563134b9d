package consign

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/storage"
)

var epoch0 = time.Unix(0, 0).UTC()

// Export writes the bundle as a deterministic TAR: blocks in lexicographic
// CID order, normalized headers, manifest.json last. Blocks missing from
// c.Blocks are hydrated from src.
//
// Every written block is re-validated against its CID, so a corrupted source
// store cannot produce a plausible bundle.
func Export(w io.Writer, src storage.CAS, c *Consignment) error {
	if err := c.check(); err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	for _, id := range c.BlockIDs() {
		b, ok := c.Blocks[id]
		if !ok {
			if src == nil {
				_ = tw.Close()
				return fmt.Errorf("consign: missing block %s and no source store", id)
			}
			var err error
			b, err = src.Get(id)
			if err != nil {
				_ = tw.Close()
				return fmt.Errorf("consign: block %s: %w", id, err)
			}
		}
		got, err := contentid.New(b)
		if err != nil {
			_ = tw.Close()
			return err
		}
		if got != id {
			_ = tw.Close()
			return fmt.Errorf("consign: block %s: %w", id, storage.ErrCIDMismatch)
		}
		if err := writeFile(tw, "blocks/"+id.String(), b); err != nil {
			_ = tw.Close()
			return err
		}
	}

	manifest, err := marshalManifest(c, true)
	if err != nil {
		_ = tw.Close()
		return err
	}
	if err := writeFile(tw, "manifest.json", manifest); err != nil {
		_ = tw.Close()
		return err
	}
	return tw.Close()
}

// ExportBytes is Export into a buffer.
func ExportBytes(src storage.CAS, c *Consignment) ([]byte, error) {
	var buf bytes.Buffer
	if err := Export(&buf, src, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parse reads a bundle, validating every block against its CID and the
// manifest against the carried blocks. Blocks referenced by the manifest
// but absent from the bundle are tolerated; the validator hydrates them
// from the local store.
func Parse(data []byte) (*Consignment, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	blocks := make(map[cid.Cid][]byte)
	var manifest []byte

	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("consign: corrupt bundle: %w", err)
		}
		name := cleanTarPath(h.Name)
		if name == "" {
			return nil, fmt.Errorf("consign: invalid entry path %q", h.Name)
		}
		if h.Typeflag != tar.TypeReg {
			return nil, fmt.Errorf("consign: unexpected tar entry type %v (%s)", h.Typeflag, name)
		}

		if name == "manifest.json" {
			if manifest != nil {
				return nil, fmt.Errorf("consign: duplicate manifest")
			}
			if manifest, err = io.ReadAll(tr); err != nil {
				return nil, err
			}
			continue
		}
		if !strings.HasPrefix(name, "blocks/") {
			return nil, fmt.Errorf("consign: unknown entry %s", name)
		}

		id, err := contentid.Parse(strings.TrimPrefix(name, "blocks/"))
		if err != nil {
			return nil, storage.ErrInvalidCID
		}
		payload, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		got, err := contentid.New(payload)
		if err != nil {
			return nil, err
		}
		if got != id {
			return nil, fmt.Errorf("consign: block %s: %w", id, storage.ErrCIDMismatch)
		}
		if _, dup := blocks[id]; dup {
			return nil, fmt.Errorf("consign: duplicate block entry %s", id)
		}
		blocks[id] = payload
	}

	if manifest == nil {
		return nil, fmt.Errorf("consign: missing manifest")
	}
	c, err := parseManifest(manifest)
	if err != nil {
		return nil, err
	}
	referenced := make(map[cid.Cid]struct{})
	for _, id := range c.BlockIDs() {
		referenced[id] = struct{}{}
	}
	for id := range blocks {
		if _, ok := referenced[id]; !ok {
			return nil, fmt.Errorf("consign: stray block %s not referenced by manifest", id)
		}
	}
	c.Blocks = blocks
	return c, nil
}

func writeFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name:     name,
		Mode:     0o644,
		Size:     int64(len(content)),
		ModTime:  epoch0,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(content))
	return err
}

func cleanTarPath(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
	}
	return strings.Join(parts, "/")
}
