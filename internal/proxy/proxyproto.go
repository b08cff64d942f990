package proxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// PROXY protocol v2: https://www.haproxy.org/download/2.9/doc/proxy-protocol.txt

var proxyV2Sig = [12]byte{0x0d, 0x0a, 0x0d, 0x0a, 0x00, 0x0d, 0x0a, 0x51, 0x55, 0x49, 0x54, 0x0a}

const (
	proxyV2Cmd   = 0x21 // version 2, PROXY
	proxyV2TCP4  = 0x11
	proxyV2TCP6  = 0x21
	proxyV2Addr4 = 12
	proxyV2Addr6 = 36
)

// BuildProxyV2Header returns the binary PROXY v2 header announcing a TCP
// connection from src to dst. Both addresses must be the same family.
func BuildProxyV2Header(src, dst *net.TCPAddr) ([]byte, error) {
	if src == nil || dst == nil {
		return nil, errors.New("proxyproto: nil addr")
	}

	var (
		fam          byte
		addrLen      int
		srcIP, dstIP net.IP
	)
	switch {
	case src.IP.To4() != nil && dst.IP.To4() != nil:
		fam, addrLen = proxyV2TCP4, proxyV2Addr4
		srcIP, dstIP = src.IP.To4(), dst.IP.To4()
	case src.IP.To4() == nil && dst.IP.To4() == nil && src.IP.To16() != nil && dst.IP.To16() != nil:
		fam, addrLen = proxyV2TCP6, proxyV2Addr6
		srcIP, dstIP = src.IP.To16(), dst.IP.To16()
	default:
		return nil, fmt.Errorf("proxyproto: mismatched ip families: src=%v dst=%v", src.IP, dst.IP)
	}

	out := make([]byte, 0, 16+addrLen)
	out = append(out, proxyV2Sig[:]...)
	out = append(out, proxyV2Cmd, fam)
	out = binary.BigEndian.AppendUint16(out, uint16(addrLen))
	out = append(out, srcIP...)
	out = append(out, dstIP...)
	out = binary.BigEndian.AppendUint16(out, uint16(src.Port))
	out = binary.BigEndian.AppendUint16(out, uint16(dst.Port))
	return out, nil
}
