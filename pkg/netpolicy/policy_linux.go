//go:build linux

package netpolicy

import (
	"fmt"
	"net"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"github.com/dnakov/vmcage/internal/errx"
)

// Package netpolicy applies the default egress policy a network-enabled
// sandbox spawn runs under: DNS to a fixed resolver set is allowed, all
// other UDP is dropped, and TCP is left to the host's routing. It runs
// twice over: ApplyDefault installs the guest-side table inside the
// sandbox's own (always-private) net namespace, and ApplyHostNAT installs
// the daemon-side masquerade rule that gives that namespace's single veth
// peer a route out through the host.

const tablePrefix = "vmcage_np_"
const natTablePrefix = "vmcage_nat_"

var defaultDNSServers = []string{"8.8.8.8", "1.1.1.1"}

// Policy is one applied nftables table, torn down by Teardown.
type Policy struct {
	conn  *nftables.Conn
	table *nftables.Table
}

// ApplyDefault installs the default egress policy for the calling
// process's network namespace: non-DNS UDP dropped, DNS to
// defaultDNSServers accepted. The caller owns the returned Policy and must
// Teardown it; os.Exit skips deferred cleanup, so callers on an exec-or-exit
// path must call Teardown explicitly before exiting, not via defer.
func ApplyDefault() (*Policy, error) {
	return Apply(defaultDNSServers)
}

// Apply installs a DNS-allow/UDP-drop output policy scoped to a table
// named for this process, so concurrent sandboxed processes in distinct
// net namespaces don't collide. The table is left installed; call
// Teardown to remove it (e.g. on process exit, best-effort).
func Apply(dnsServers []string) (*Policy, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, errx.Wrap(ErrOpenConn, err)
	}

	var dnsIPs []net.IP
	for _, s := range dnsServers {
		if ip := net.ParseIP(s).To4(); ip != nil {
			dnsIPs = append(dnsIPs, ip)
		}
	}

	table := conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   fmt.Sprintf("%s%d", tablePrefix, unix.Getpid()),
	})

	outChain := conn.AddChain(&nftables.Chain{
		Name:     "output",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
	})

	for _, ip := range dnsIPs {
		conn.AddRule(&nftables.Rule{
			Table: table,
			Chain: outChain,
			Exprs: udpDNSAcceptRule(ip),
		})
	}

	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: outChain,
		Exprs: udpDropRule(),
	})

	if err := conn.Flush(); err != nil {
		return nil, errx.Wrap(ErrApplyPolicy, err)
	}

	return &Policy{conn: conn, table: table}, nil
}

// Teardown removes the table installed by Apply/ApplyDefault.
func (p *Policy) Teardown() error {
	p.conn.DelTable(p.table)
	if err := p.conn.Flush(); err != nil {
		return errx.Wrap(ErrTeardown, err)
	}
	return nil
}

// ApplyHostNAT installs a postrouting masquerade rule scoped to guestIP, the
// single address assigned to a sandbox's veth peer. It runs in the daemon's
// own (host) net namespace and gives that one guest a route to the internet
// through the host's existing default route, without opening NAT to any
// other address. Returns a Policy so the caller can Teardown it the same
// way as ApplyDefault.
func ApplyHostNAT(guestIP string) (*Policy, error) {
	ip := net.ParseIP(guestIP).To4()
	if ip == nil {
		return nil, errx.With(ErrApplyPolicy, ": invalid guest ip %q", guestIP)
	}

	conn, err := nftables.New()
	if err != nil {
		return nil, errx.Wrap(ErrOpenConn, err)
	}

	table := conn.AddTable(&nftables.Table{
		Family: nftables.TableFamilyIPv4,
		Name:   fmt.Sprintf("%s%d", natTablePrefix, unix.Getpid()),
	})

	chain := conn.AddChain(&nftables.Chain{
		Name:     "postrouting",
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})

	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Payload{
				DestRegister: 1,
				Base:         expr.PayloadBaseNetworkHeader,
				Offset:       12,
				Len:          4,
			},
			&expr.Cmp{
				Op:       expr.CmpOpEq,
				Register: 1,
				Data:     ip,
			},
			&expr.Masq{},
		},
	})

	if err := conn.Flush(); err != nil {
		return nil, errx.Wrap(ErrApplyPolicy, err)
	}

	return &Policy{conn: conn, table: table}, nil
}

func udpDNSAcceptRule(dstIP net.IP) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{unix.IPPROTO_UDP},
		},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       16,
			Len:          4,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     dstIP.To4(),
		},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2,
			Len:          2,
		},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     binaryutil.BigEndian.PutUint16(53),
		},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

func udpDropRule() []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{
			Op:       expr.CmpOpEq,
			Register: 1,
			Data:     []byte{unix.IPPROTO_UDP},
		},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}
