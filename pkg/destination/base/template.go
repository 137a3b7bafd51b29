package base

import (
	"os"
	"strings"
	"time"

	"github.com/olkham/inference-node/pkg/payload"
)

// ExpandTemplate substitutes the publisher template variables into topics,
// URLs, and file name prefixes:
//
//	{node_id}      the publishing node's identity
//	{pipeline_id}  the pipeline_id field of the payload, if present
//	{model_name}   the model_name field of the payload, if present
//	{timestamp}    payload timestamp as 20060102T150405
//	{date}         payload timestamp as 2006-01-02
//	{hostname}     the local hostname
//
// Unknown braces are left untouched, so MQTT-style {foo} topic segments
// outside this set survive expansion.
func ExpandTemplate(s string, p *payload.Payload) string {
	if !strings.Contains(s, "{") {
		return s
	}

	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	hostname, _ := os.Hostname()

	return strings.NewReplacer(
		"{node_id}", p.NodeID,
		"{pipeline_id}", p.StringField("pipeline_id"),
		"{model_name}", p.StringField("model_name"),
		"{timestamp}", ts.Format("20060102T150405"),
		"{date}", ts.Format("2006-01-02"),
		"{hostname}", hostname,
	).Replace(s)
}
