package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"velu/internal/task"
)

// Codegen emits a minimal package for {idea, module}. Payloads carrying
// "lang" instead ask for a single-file CLI scaffold described by "spec";
// only python is supported.
func Codegen(_ context.Context, p task.Payload) task.Result {
	if _, ok := p["lang"]; ok {
		return codegenScaffold(p)
	}

	idea := p.String("idea", "demo")
	module := p.String("module", "hello_mod")
	files := []task.File{
		{Path: module + "/__init__.py", Content: "# generated package\n"},
		{Path: module + "/main.py", Content: fmt.Sprintf("def run():\n    return %q\n", idea+" via "+module)},
		{Path: "tests/test_" + module + ".py", Content: "def test_sanity():\n    assert True\n"},
	}
	return task.Success(StepCodegen).With("files", files)
}

func codegenScaffold(p task.Payload) task.Result {
	lang := strings.ToLower(p.String("lang", ""))
	if lang != "python" {
		return task.Failure(StepCodegen, "unsupported lang: "+lang).
			With("supported", []string{"python"})
	}
	spec := p.String("spec", "CLI app")
	name := slug(spec)
	path := "generated/" + name + ".py"
	code := pythonCLI(spec, name)
	return task.Success(StepCodegen).
		With("artifact", map[string]any{"path": path, "language": "python", "code": code}).
		With("files", []task.File{{Path: path, Content: code}})
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "app"
	}
	return out
}

func pythonCLI(spec, app string) string {
	return fmt.Sprintf(`#!/usr/bin/env python3
# hello from codegen: %[1]s
from __future__ import annotations

import argparse

def main() -> int:
    parser = argparse.ArgumentParser(prog=%[2]q, description=%[1]q)
    parser.add_argument("--name", default="world", help="Name to greet")
    args = parser.parse_args()
    print(f"Hello, {args.name}!")
    return 0

if __name__ == "__main__":
    raise SystemExit(main())
`, spec, app)
}
