package build

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// VersionInfo holds resolved version metadata from git, used by tag templates.
type VersionInfo struct {
	Version   string // "1.2.3" or "0.0.0-dev+abc1234"
	Major     string
	Minor     string
	Patch     string
	SHA       string // short (7)
	Branch    string
	IsRelease bool // true if HEAD carries the highest semver tag
}

// DetectVersion resolves version info from the repository at rootDir.
// The highest semver tag wins; a repo without tags gets a dev version.
func DetectVersion(rootDir string) (*VersionInfo, error) {
	repo, err := git.PlainOpenWithOptions(rootDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	v := &VersionInfo{SHA: head.Hash().String()[:7]}
	if head.Name().IsBranch() {
		v.Branch = head.Name().Short()
	}

	best, bestHash := highestSemverTag(repo)
	if best == nil {
		v.Version = fmt.Sprintf("0.0.0-dev+%s", v.SHA)
		v.Major, v.Minor, v.Patch = "0", "0", "0"
		return v, nil
	}

	v.Major = strconv.FormatUint(best.Major(), 10)
	v.Minor = strconv.FormatUint(best.Minor(), 10)
	v.Patch = strconv.FormatUint(best.Patch(), 10)
	v.Version = best.String()
	v.IsRelease = bestHash == head.Hash()

	if !v.IsRelease {
		v.Version = fmt.Sprintf("%s-dev+%s", v.Version, v.SHA)
	}

	return v, nil
}

// highestSemverTag walks tag refs and returns the highest parseable semver
// tag and the commit it points at. Annotated tags are peeled.
func highestSemverTag(repo *git.Repository) (*semver.Version, plumbing.Hash) {
	var best *semver.Version
	var bestHash plumbing.Hash

	tags, err := repo.Tags()
	if err != nil {
		return nil, bestHash
	}
	defer tags.Close()

	_ = tags.ForEach(func(ref *plumbing.Reference) error {
		name := strings.TrimPrefix(ref.Name().Short(), "v")
		ver, parseErr := semver.StrictNewVersion(name)
		if parseErr != nil {
			return nil
		}

		hash := ref.Hash()
		if tagObj, tagErr := repo.TagObject(ref.Hash()); tagErr == nil {
			hash = tagObj.Target
		}

		if best == nil || ver.GreaterThan(best) {
			best = ver
			bestHash = hash
		}
		return nil
	})

	return best, bestHash
}
