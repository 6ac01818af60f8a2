package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/haasonsaas/nexus/internal/workspace"
	"github.com/haasonsaas/nexus/pkg/models"
)

func (e *Executor) registerWorkspaceTools() {
	e.register("read_file", "workspace", readFile)
	e.register("write_file", "workspace", writeFile)
	e.register("list_files", "workspace", listFiles)
	e.register("get_workspace_info", "workspace", getWorkspaceInfo)
}

// workspaceFor resolves the workspace id tool handlers operate on: the
// ancestor already resolved onto ectx by the caller, or a fresh lookup via
// Lifecycle.FindWorkspaceIdForAgent if ectx didn't carry one.
func (e *Executor) workspaceFor(ectx ExecContext) (string, error) {
	if ectx.WorkspaceAncestor != "" {
		return ectx.WorkspaceAncestor, nil
	}
	id := e.Lifecycle.FindWorkspaceIdForAgent(ectx.CallerAgentID)
	if id == "" {
		return "", errNoWorkspace
	}
	return id, nil
}

var errNoWorkspace = errString(models.ErrKindWorkspaceNotBound)

type errString string

func (e errString) Error() string { return string(e) }

// workspaceErrKind translates a workspace.Manager failure (or the raw OS
// error ReadFile/ListFiles pass through) onto the spec's workspace-tool
// error vocabulary.
func workspaceErrKind(err error) string {
	switch {
	case errors.Is(err, workspace.ErrInvalidPath):
		return models.ErrKindPathTraversalBlocked
	case errors.Is(err, workspace.ErrUnknownWorkspace):
		return models.ErrKindWorkspaceNotBound
	case os.IsNotExist(err):
		return models.ErrKindFileNotFound
	case os.IsPermission(err):
		return models.ErrKindPermissionDenied
	default:
		return err.Error()
	}
}

type readFileArgs struct {
	Path string `json:"path"`
}

func readFile(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in readFileArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	wsID, err := e.workspaceFor(ectx)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	data, err := e.Workspaces.ReadFile(wsID, in.Path)
	if err != nil {
		return errResult{Error: workspaceErrKind(err)}, nil
	}
	return map[string]string{"content": string(data)}, nil
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func writeFile(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in writeFileArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	wsID, err := e.workspaceFor(ectx)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	if err := e.Workspaces.WriteFile(wsID, in.Path, []byte(in.Content)); err != nil {
		return errResult{Error: workspaceErrKind(err)}, nil
	}
	return map[string]bool{"ok": true}, nil
}

type listFilesArgs struct {
	Path string `json:"path,omitempty"`
}

func listFiles(_ context.Context, ectx ExecContext, e *Executor, args json.RawMessage) (any, error) {
	var in listFilesArgs
	if err := parseArgs(args, &in); err != nil {
		return nil, err
	}
	wsID, err := e.workspaceFor(ectx)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	entries, err := e.Workspaces.ListFiles(wsID, in.Path)
	if err != nil {
		return errResult{Error: workspaceErrKind(err)}, nil
	}
	return entries, nil
}

func getWorkspaceInfo(_ context.Context, ectx ExecContext, e *Executor, _ json.RawMessage) (any, error) {
	wsID, err := e.workspaceFor(ectx)
	if err != nil {
		return errResult{Error: err.Error()}, nil
	}
	info, err := e.Workspaces.GetWorkspaceInfo(wsID)
	if err != nil {
		return errResult{Error: workspaceErrKind(err)}, nil
	}
	return info, nil
}
