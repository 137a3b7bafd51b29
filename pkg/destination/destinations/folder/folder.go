// Package folder writes each payload to its own JSON file in a local
// directory, optionally gzip-compressed. File names are
// <prefix><timestamp>_<correlation_id>.json[.gz]; the prefix supports the
// publisher template variables.
package folder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("folder", "writes each payload to a JSON file in a local directory", New)
}

// Destination writes payloads to files.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured folder destination.
func New() core.Destination {
	return &Destination{Destination: base.New("folder")}
}

// Configure validates the path and creates the directory.
//
// Options: path (required), prefix (file name prefix, template-expanded
// per payload), compress (gzip output, default false).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := cfg.Options.RequiredString("path")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create output directory").
			WithDetail("path", path)
	}

	prefix := cfg.Options.String("prefix", "")
	compress := cfg.Options.Bool("compress", false)

	sender := &fileSender{path: path, prefix: prefix, compress: compress}
	return d.Bind(cfg, sender, nil)
}

type fileSender struct {
	path     string
	prefix   string
	compress bool
}

func (s *fileSender) Send(_ context.Context, p *payload.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	name := s.fileName(p)
	tmp := filepath.Join(s.path, name+".tmp")

	if err := s.writeFile(tmp, data); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to write payload file").
			WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, filepath.Join(s.path, name)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to finalize payload file")
	}
	return nil
}

func (s *fileSender) writeFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if s.compress {
		zw := gzip.NewWriter(f)
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			f.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *fileSender) fileName(p *payload.Payload) string {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := p.CorrelationID
	if id == "" {
		id = fmt.Sprintf("%09d", ts.Nanosecond())
	}

	name := fmt.Sprintf("%s%s_%s.json", base.ExpandTemplate(s.prefix, p), ts.Format("20060102T150405.000"), id)
	if s.compress {
		name += ".gz"
	}
	return name
}
