package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/roach88/layercache/internal/ir"
)

// wireRequest is the decoded shape of an encoded Request.
type wireRequest struct {
	Format    string     `json:"format"`
	Verb      Verb       `json:"verb"`
	Type      string     `json:"type"`
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Criteria  ir.Object  `json:"criteria"`
	Value     *wireValue `json:"value"`
	Extra     ir.Object  `json:"extra"`
	Blob      string     `json:"blob"`
	Freshness int        `json:"freshness"`
	Populate  []string   `json:"populate"`
	TimeMs    int64      `json:"time_ms"`
}

type wireValue struct {
	Base      ir.Object `json:"base"`
	Overrides ir.Object `json:"overrides"`
}

// EncodeRequest serializes req to canonical JSON. Equal requests always
// encode to identical bytes. Empty optional fields are omitted.
func EncodeRequest(req *Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	obj := ir.Object{
		"format":    ir.String(ir.FormatVersion),
		"verb":      ir.String(req.Verb),
		"type":      ir.String(req.Type),
		"freshness": ir.Int(req.FreshnessSeconds),
		"time_ms":   ir.Int(req.TimeMs),
	}
	if req.ID != "" {
		obj["id"] = ir.String(req.ID)
	}
	if req.Key != "" {
		obj["key"] = ir.String(req.Key)
	}
	if req.Criteria != nil {
		obj["criteria"] = req.Criteria
	}
	if !req.Value.IsZero() {
		v := ir.Object{}
		if req.Value.Base != nil {
			v["base"] = req.Value.Base
		}
		if req.Value.Overrides != nil {
			v["overrides"] = req.Value.Overrides
		}
		obj["value"] = v
	}
	if req.Extra != nil {
		obj["extra"] = req.Extra
	}
	if len(req.Blob) > 0 {
		obj["blob"] = ir.String(base64.StdEncoding.EncodeToString(req.Blob))
	}
	if len(req.Populate) > 0 {
		obj["populate"] = ir.Strings(req.Populate...)
	}

	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req, err)
	}
	return data, nil
}

// DecodeRequest parses bytes produced by EncodeRequest.
func DecodeRequest(data []byte) (*Request, error) {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if w.Format != ir.FormatVersion {
		return nil, fmt.Errorf("decode request: unsupported format %q", w.Format)
	}

	req := &Request{
		Verb:             w.Verb,
		Type:             w.Type,
		ID:               w.ID,
		Key:              w.Key,
		Criteria:         w.Criteria,
		Extra:            w.Extra,
		FreshnessSeconds: w.Freshness,
		Populate:         w.Populate,
		TimeMs:           w.TimeMs,
	}
	if w.Value != nil {
		req.Value = ir.Record{Base: w.Value.Base, Overrides: w.Value.Overrides}
	}
	if w.Blob != "" {
		blob, err := base64.StdEncoding.DecodeString(w.Blob)
		if err != nil {
			return nil, fmt.Errorf("decode request blob: %w", err)
		}
		req.Blob = blob
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
