package db

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// TestJsonbBuildObjectQuoting fails when a jsonb_build_object call in this
// package uses double-quoted keys, which Postgres reads as column names.
func TestJsonbBuildObjectQuoting(t *testing.T) {
	doubleQuotedKey := regexp.MustCompile(`"\w+"\s*,\s*\w+`)

	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}

	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		content := string(data)

		parts := strings.Split(content, "jsonb_build_object(")
		if len(parts) <= 1 {
			continue
		}
		for i, part := range parts[1:] {
			depth := 1
			end := -1
			for j := 0; j < len(part); j++ {
				if part[j] == '(' {
					depth++
				} else if part[j] == ')' {
					depth--
					if depth == 0 {
						end = j
						break
					}
				}
			}
			if end == -1 {
				continue
			}
			block := part[:end]

			if doubleQuotedKey.MatchString(block) {
				prefix := strings.Join(parts[:i+1], "jsonb_build_object(")
				lineNum := strings.Count(prefix, "\n") + 1
				t.Errorf("%s:%d: jsonb_build_object uses double-quoted key (Postgres treats these as column identifiers, not string literals):\n%s",
					file, lineNum, trimBlock(block))
			}
		}
	}
}

func trimBlock(s string) string {
	lines := strings.Split(s, "\n")
	if len(lines) > 15 {
		lines = lines[:15]
		lines = append(lines, "\t...")
	}
	return strings.Join(lines, "\n")
}
