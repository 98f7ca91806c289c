// Package multicast opens per-stream multicast UDP sockets with a
// configured time-to-live, for the reflector's "per-stream TTL forwarding"
// non-goal boundary (spec §1): no multicast routing beyond this.
package multicast

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// Conn is a multicast UDP socket bound to a destination group and scoped to
// a TTL, usable both to receive (subscriber side) and send (publisher-fanout
// side) datagrams.
type Conn struct {
	pc   *ipv4.PacketConn
	addr *net.UDPAddr
}

// Listen joins the multicast group at address (host:port) with the given
// TTL and returns a Conn ready to read and write datagrams on it. When no
// multicast-capable interface reaches the group, the socket is bound to the
// port without joining the group.
func Listen(address string, ttl int) (*Conn, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}
	if !addr.IP.IsMulticast() {
		return nil, fmt.Errorf("address %s is not a multicast address", address)
	}

	socket, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", addr.Port))
	if err != nil {
		return nil, err
	}

	pc := ipv4.NewPacketConn(socket)

	intf, err := InterfaceForSource(addr.IP)
	if err == nil {
		if jerr := pc.JoinGroup(intf, addr); jerr != nil {
			socket.Close() //nolint:errcheck
			return nil, jerr
		}
	}

	if err := pc.SetMulticastTTL(ttl); err != nil {
		socket.Close() //nolint:errcheck
		return nil, err
	}
	if err := pc.SetMulticastLoopback(false); err != nil {
		socket.Close() //nolint:errcheck
		return nil, err
	}

	return &Conn{pc: pc, addr: addr}, nil
}

// Close releases the socket.
func (c *Conn) Close() error {
	return c.pc.Close()
}

// WriteTo sends a datagram to the multicast group.
func (c *Conn) WriteTo(b []byte) (int, error) {
	return c.pc.WriteTo(b, nil, c.addr)
}

// ReadFrom reads a datagram arriving on the multicast socket.
func (c *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, _, src, err := c.pc.ReadFrom(b)
	return n, src, err
}

// InterfaceForSource returns a multicast-capable network interface that can
// reach ip, or an error if there is none (loopback is never usable as a
// multicast source).
func InterfaceForSource(ip net.IP) (*net.Interface, error) {
	if ip.IsLoopback() {
		return nil, fmt.Errorf("IP 127.0.0.1 can't be used as source of a multicast stream")
	}

	intfs, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for i := range intfs {
		intf := intfs[i]
		if intf.Flags&net.FlagMulticast == 0 {
			continue
		}

		addrs, err := intf.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			_, ipnet, err := net.ParseCIDR(a.String())
			if err == nil && ipnet.Contains(ip) {
				return &intf, nil
			}
		}
	}

	return nil, fmt.Errorf("found no multicast-capable interface that can reach %v", ip)
}
