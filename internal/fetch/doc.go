// Package fetch retrieves a versioned source tree from a remote repository
// into a local working directory.
//
// Two strategies are provided:
//
//   - GitFetcher shells out to the git binary for a shallow single-branch
//     clone, the same way the rest of this project's tooling drives git.
//   - ArchiveFetcher downloads a zip archive of the ref over HTTP and
//     extracts it, which needs no git installation.
//
// Both classify failures into two sentinel errors so callers can map them
// to distinct exit codes: ErrNotFound when the repository or ref does not
// exist, and ErrTransport for everything else (network, process, disk).
package fetch
