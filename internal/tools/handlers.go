package tools

import (
	"context"
	"fmt"
	"time"

	"republic/internal/diff"
	agenterrors "republic/internal/errors"
	"republic/internal/toolregistry"
)

// Handler runs one tool. Returned errors are classified into the error
// taxonomy by the executor.
type Handler func(ctx context.Context, args map[string]any) (any, error)

func stringArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok {
		return "", agenterrors.New(agenterrors.CodeValidation, "missing string argument %q", key)
	}
	return v, nil
}

func readFileHandler(ws *Workspace) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		encoding := stringArg(args, "encoding", "utf-8")
		content, size, err := ws.ReadFile(path, encoding)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content":    content,
			"size_bytes": size,
			"encoding":   normalizeEncoding(encoding),
		}, nil
	}
}

func writeFileHandler(ws *Workspace) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		path, err := requireString(args, "path")
		if err != nil {
			return nil, err
		}
		content, err := requireString(args, "content")
		if err != nil {
			return nil, err
		}
		encoding := stringArg(args, "encoding", "utf-8")
		previous, existed, written, err := ws.WriteFile(path, content, encoding)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"path":          path,
			"bytes_written": written,
			"created":       !existed,
		}
		if normalizeEncoding(encoding) == "utf-8" {
			change := diff.Unified(previous, content, path)
			out["diff"] = change.Unified
			out["summary"] = change.Summary()
		}
		return out, nil
	}
}

func runCodeHandler(sandbox *Sandbox) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		language := stringArg(args, "language", "")
		if language != "starlark" {
			return nil, agenterrors.New(agenterrors.CodeValidation, "language %q is not available in this sandbox; use starlark", language)
		}
		code, err := requireString(args, "code")
		if err != nil {
			return nil, err
		}
		if ms := intArg(args, "timeout_ms", 0); ms > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
			defer cancel()
		}
		start := time.Now()
		result, err := sandbox.Run(ctx, code)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"stdout":            result.Stdout,
			"result":            result.Result,
			"exit_code":         result.ExitCode,
			"stderr":            result.Error,
			"execution_time_ms": time.Since(start).Milliseconds(),
		}, nil
	}
}

func openURLHandler(session *Session) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		url, err := requireString(args, "url")
		if err != nil {
			return nil, err
		}
		if ms := intArg(args, "timeout_ms", 0); ms > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
			defer cancel()
		}
		page, err := session.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"success":     true,
			"final_url":   page.URL,
			"status_code": page.StatusCode,
			"title":       page.Title,
		}, nil
	}
}

func extractTextHandler(session *Session) Handler {
	return func(_ context.Context, args map[string]any) (any, error) {
		selector := stringArg(args, "selector", "body")
		text, err := session.ExtractText(selector, intArg(args, "max_chars", defaultMaxChars))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"text":       text,
			"selector":   selector,
			"char_count": len([]rune(text)),
		}, nil
	}
}

// builtinHandlers wires the local adapters. Tools whose backing resource
// is nil are left without a handler.
func builtinHandlers(ws *Workspace, session *Session, sandbox *Sandbox) map[string]Handler {
	handlers := map[string]Handler{}
	if ws != nil {
		handlers[toolregistry.ToolReadFile] = readFileHandler(ws)
		handlers[toolregistry.ToolWriteFile] = writeFileHandler(ws)
	}
	if session != nil {
		handlers[toolregistry.ToolOpenURL] = openURLHandler(session)
		handlers[toolregistry.ToolExtractText] = extractTextHandler(session)
	}
	if sandbox != nil {
		handlers[toolregistry.ToolRunCode] = runCodeHandler(sandbox)
	}
	return handlers
}

func missingHandler(name string) *agenterrors.ToolError {
	return agenterrors.New(agenterrors.CodeNotFound, "%s", fmt.Sprintf("no local adapter for tool %q", name))
}
