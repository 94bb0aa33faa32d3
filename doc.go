/*
Package cvdmirror is a tool for mirroring ClamAV-style signature databases.

cvdmirror keeps a local mirror directory synchronized with the upstream
distribution network, tolerating unreliable individual mirror hosts:
  - Mirror pool discovery through the domain's authoritative name servers
  - Incremental diff chains with full snapshot fallback
  - Verification of every artifact before it becomes visible
  - Atomic publishes with file locking

The main packages are:

	github.com/cvdmirror/cvdmirror/internal/mirror  - Core synchronization logic
	github.com/cvdmirror/cvdmirror/cmd/cvdmirror    - Command-line interface
*/
package cvdmirror
