package source

import (
	"fmt"
	"io"
	"net/netip"
	"strings"

	"github.com/google/gopacket/pcap"
	"github.com/olekukonko/tablewriter"
)

// DefaultSubnet is the point-to-point subnet two linked cabinets use; the
// capture device carrying an address inside it is almost certainly the link.
var DefaultSubnet = netip.MustParsePrefix("192.168.139.0/24")

// Devices returns all capture-capable devices on the host.
func Devices() ([]pcap.Interface, error) {
	return pcap.FindAllDevs()
}

// RenderDevices writes a table of capture devices to w.
func RenderDevices(w io.Writer, devs []pcap.Interface) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Description", "Addresses"})
	for _, dev := range devs {
		addrs := make([]string, 0, len(dev.Addresses))
		for _, addr := range dev.Addresses {
			addrs = append(addrs, addr.IP.String())
		}
		table.Append([]string{dev.Name, dev.Description, strings.Join(addrs, ", ")})
	}
	table.Render()
}

// AutoSelect returns the first device with an address inside the given
// subnet, reflecting the typical cabinet-to-cabinet link topology.
func AutoSelect(subnet netip.Prefix) (string, error) {
	devs, err := Devices()
	if err != nil {
		return "", err
	}
	for _, dev := range devs {
		for _, addr := range dev.Addresses {
			ip, ok := netip.AddrFromSlice(addr.IP)
			if !ok {
				continue
			}
			if subnet.Contains(ip.Unmap()) {
				return dev.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no capture device with an address in %s", subnet)
}
