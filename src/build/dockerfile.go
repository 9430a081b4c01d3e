package build

import (
	"bufio"
	"os"
	"regexp"
	"strings"
)

var (
	// FROM [--platform=...] <image> [AS <name>]
	fromRe = regexp.MustCompile(`(?i)^FROM\s+(?:--platform=\S+\s+)?(\S+)(?:\s+AS\s+(\S+))?`)
	// ARG <name>[=<default>]
	argRe = regexp.MustCompile(`(?i)^ARG\s+(\S+?)(?:=.*)?$`)
)

// DockerfileInfo describes the build-relevant parts of a Dockerfile.
type DockerfileInfo struct {
	Path   string
	Stages []Stage
	Args   []string
}

// Stage describes a single FROM stage in a Dockerfile.
type Stage struct {
	Name      string // alias from "AS name", empty if unnamed
	BaseImage string
	Line      int
}

// ParseDockerfile extracts stage and arg info from a Dockerfile.
// This is a regex-based parser — not a full AST. Sufficient for build-arg
// injection and target validation.
func ParseDockerfile(path string) (*DockerfileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info := &DockerfileInfo{Path: path}
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := fromRe.FindStringSubmatch(line); m != nil {
			stage := Stage{
				BaseImage: m[1],
				Line:      lineNum,
			}
			if len(m) > 2 {
				stage.Name = m[2]
			}
			info.Stages = append(info.Stages, stage)
			continue
		}

		if m := argRe.FindStringSubmatch(line); m != nil {
			info.Args = append(info.Args, m[1])
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return info, nil
}
