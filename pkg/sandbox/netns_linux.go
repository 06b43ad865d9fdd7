//go:build linux

package sandbox

import (
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/netpolicy"
)

// vethNames derives a pair of interface names from the child's outer pid so
// concurrent spawns never collide. Linux caps interface names at IFNAMSIZ-1
// (15) bytes, so the host name is truncated to fit.
func vethNames(pid int) (host, guest string) {
	host = fmt.Sprintf("vmv%d", pid)
	if len(host) > 15 {
		host = host[:15]
	}
	guest = fmt.Sprintf("vmg%d", pid)
	if len(guest) > 15 {
		guest = guest[:15]
	}
	return host, guest
}

// vethSubnet derives a disjoint /30 point-to-point link address pair from
// the child's outer pid, grounded on the teacher pack's per-sandbox /30
// scheme (jy-tan-manta's setupSandboxNetnsAndRouting) but scaled down to a
// single veth pair rather than a veth+tap chain, since a sandboxed process
// talks to the daemon directly rather than through a Firecracker tap.
func vethSubnet(pid int) (hostIP, guestIP string) {
	key := pid % 16384
	hi := key >> 6
	lo := (key & 0x3f) * 4
	return fmt.Sprintf("10.200.%d.%d", hi, lo+1), fmt.Sprintf("10.200.%d.%d", hi, lo+2)
}

// setupHostVeth wires the daemon side of a sandbox's private network: a
// veth pair with one end moved into the child's (already unshared) net
// namespace by pid, an address and default-route-worthy link brought up on
// the host end, and a masquerade rule so the guest end can reach out
// through the host's existing default route. Returns a teardown func that
// removes both the link and the nftables rule; safe to call once.
func setupHostVeth(childPID int) (func(), error) {
	hostName, guestName := vethNames(childPID)
	hostIP, guestIP := vethSubnet(childPID)

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: hostName},
		PeerName:  guestName,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return nil, errx.With(ErrNetSetup, ": create veth pair: %w", err)
	}
	cleanupLink := func() {
		if l, err := netlink.LinkByName(hostName); err == nil {
			_ = netlink.LinkDel(l)
		}
	}

	peer, err := netlink.LinkByName(guestName)
	if err != nil {
		cleanupLink()
		return nil, errx.With(ErrNetSetup, ": lookup veth peer: %w", err)
	}
	if err := netlink.LinkSetNsPid(peer, childPID); err != nil {
		cleanupLink()
		return nil, errx.With(ErrNetSetup, ": move veth peer into sandbox netns: %w", err)
	}

	hostLink, err := netlink.LinkByName(hostName)
	if err != nil {
		cleanupLink()
		return nil, errx.With(ErrNetSetup, ": lookup veth host: %w", err)
	}
	addr, err := netlink.ParseAddr(hostIP + "/30")
	if err != nil {
		cleanupLink()
		return nil, errx.Wrap(ErrNetSetup, err)
	}
	if err := netlink.AddrAdd(hostLink, addr); err != nil {
		cleanupLink()
		return nil, errx.With(ErrNetSetup, ": assign veth host ip: %w", err)
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		cleanupLink()
		return nil, errx.With(ErrNetSetup, ": set veth host up: %w", err)
	}

	nat, err := netpolicy.ApplyHostNAT(guestIP)
	if err != nil {
		cleanupLink()
		return nil, err
	}

	return func() {
		_ = nat.Teardown()
		cleanupLink()
	}, nil
}

// configureGuestVeth runs inside the sandbox's own net namespace (the
// process is already there via CLONE_NEWNET; no netns switch needed) once
// the daemon has moved the veth peer in. It assigns the guest address,
// brings up both the peer and loopback, and routes the default gateway
// through the host end of the pair.
func configureGuestVeth(outerPID int) error {
	hostIP, guestIP := vethSubnet(outerPID)
	_, guestName := vethNames(outerPID)

	link, err := netlink.LinkByName(guestName)
	if err != nil {
		return errx.With(ErrNetSetup, ": lookup guest veth: %w", err)
	}
	addr, err := netlink.ParseAddr(guestIP + "/30")
	if err != nil {
		return errx.Wrap(ErrNetSetup, err)
	}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return errx.With(ErrNetSetup, ": assign guest veth ip: %w", err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errx.With(ErrNetSetup, ": set guest veth up: %w", err)
	}

	if lo, err := netlink.LinkByName("lo"); err == nil {
		_ = netlink.LinkSetUp(lo)
	}

	gw := net.ParseIP(hostIP)
	if gw == nil {
		return errx.With(ErrNetSetup, ": invalid host gateway ip %q", hostIP)
	}
	if err := netlink.RouteReplace(&netlink.Route{LinkIndex: link.Attrs().Index, Gw: gw}); err != nil {
		return errx.With(ErrNetSetup, ": set guest default route: %w", err)
	}
	return nil
}
