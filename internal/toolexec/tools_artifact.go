package toolexec

import (
	"context"
	"encoding/json"
)

func (e *Executor) registerArtifactTools() {
	e.register("put_artifact", "artifact", putArtifact)
	e.register("get_artifact", "artifact", getArtifact)
}

type putArtifactArgs struct {
	Type     string            `json:"type"`
	Content  string            `json:"content"`
	MimeType string            `json:"mimeType,omitempty"`
	Filename string            `json:"filename,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

type putArtifactResult struct {
	Ref string `json:"ref"`
}

func putArtifact(ctx context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in putArtifactArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	art, err := e.Artifacts.StoreArtifact(ctx, ectx.CallerAgentID, in.Type, in.MimeType, in.Filename, []byte(in.Content))
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return putArtifactResult{Ref: art.ID}, nil
}

type getArtifactArgs struct {
	Ref string `json:"ref"`
}

type getArtifactResult struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content"`
}

func getArtifact(ctx context.Context, _ ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in getArtifactArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	art, data, err := e.Artifacts.GetArtifact(ctx, in.Ref)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	return getArtifactResult{Type: art.Type, MimeType: art.MimeType, Filename: art.Filename, Content: string(data)}, nil
}
