// Command fixnet-echo runs a fixnet stack on a Linux TAP interface and
// serves a line based TCP echo service.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/internet"
	"github.com/soypat/fixnet/ipv4"
	"github.com/soypat/fixnet/link"
)

var (
	flagIface    = pflag.StringP("iface", "i", "tap0", "TAP interface to create or attach to.")
	flagHostAddr = pflag.String("host-addr", "192.168.10.1/24", "Address assigned to the host side of the TAP interface. Empty leaves the interface unconfigured.")
	flagAddr     = pflag.StringP("addr", "a", "192.168.10.2/24", "Stack address and prefix. Empty acquires one over DHCP.")
	flagGateway  = pflag.StringP("gateway", "g", "", "Default gateway. Defaults to the host address.")
	flagMAC      = pflag.String("mac", "02:00:00:fe:ed:01", "Stack hardware address.")
	flagPort     = pflag.Uint16P("port", "p", 7, "TCP echo port.")
	flagConns    = pflag.Int("conns", 8, "Size of the TCP connection table.")
	flagPcap     = pflag.String("pcap", "", "Write all frames to this pcap file.")
	flagLevel    = pflag.String("log", "info", "Log level: trace, debug, info, warn or error.")
	flagDump     = pflag.Duration("dump", 0, "Print a stack diagnostic dump at this interval. Zero disables.")
	flagDNS      = pflag.String("dns", "", "Name server address. A DHCP lease may provide one.")
	flagLookup   = pflag.StringSlice("lookup", nil, "Hosts to resolve once the stack is up.")
	flagNTP      = pflag.String("ntp", "", "NTP server address or host name to measure the clock offset against.")
)

func main() {
	pflag.Parse()
	err := run()
	if err != nil {
		log.Fatalln("failed:", errors.ErrorStack(err))
	}
}

func run() error {
	logger, err := newLogger(*flagLevel)
	if err != nil {
		return err
	}
	mac, err := net.ParseMAC(*flagMAC)
	if err != nil || len(mac) != 6 {
		return errors.NotValidf("mac %q", *flagMAC)
	}
	var hostPrefix netip.Prefix
	if *flagHostAddr != "" {
		hostPrefix, err = netip.ParsePrefix(*flagHostAddr)
		if err != nil {
			return errors.Annotate(err, "host-addr")
		}
	}
	ipcfg, err := staticConfig(*flagAddr, *flagGateway, hostPrefix)
	if err != nil {
		return err
	}
	var dnsServer [4]byte
	if *flagDNS != "" {
		ns, err := netip.ParseAddr(*flagDNS)
		if err != nil || !ns.Is4() {
			return errors.NotValidf("dns %q", *flagDNS)
		}
		dnsServer = ns.As4()
	}

	tap, err := link.OpenTAP(*flagIface, hostPrefix)
	if err != nil {
		return err
	}
	defer tap.Close()
	var dev link.Device = tap
	if *flagPcap != "" {
		f, err := os.Create(*flagPcap)
		if err != nil {
			return errors.Trace(err)
		}
		defer f.Close()
		pc, err := link.NewPcap(f, fixnet.MaxFrameSize)
		if err != nil {
			return err
		}
		dev = pc.Tee(tap, func(err error) { logger.Error("pcap", slog.String("err", err.Error())) })
	}

	stack, err := internet.NewStack(internet.StackConfig{
		HardwareAddr: [6]byte(mac),
		IPv4:         ipcfg,
		Link:         dev,
		Logger:       logger,
		MaxConns:     *flagConns,
		Hostname:     "fixnet-echo",
		DNSServer:    dnsServer,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		err := stack.Serve(ctx, dev)
		if err != nil && ctx.Err() == nil {
			logger.Error("serve", slog.String("err", err.Error()))
			stop()
		}
	}()
	go stack.RunTicker(ctx, 50*time.Millisecond)
	if *flagDump > 0 {
		go dumpEvery(ctx, stack, *flagDump)
	}

	if ipcfg.Addr == [4]byte{} {
		lease, err := stack.DHCP(30 * time.Second)
		if err != nil {
			return errors.Annotate(err, "dhcp")
		}
		logger.Info("dhcp", slog.String("addr", netip.AddrFrom4(lease.Addr).String()), slog.Duration("lease", lease.Duration))
	}
	for _, host := range *flagLookup {
		addrs, err := stack.LookupIPv4(host, 10*time.Second)
		if err != nil {
			logger.Warn("lookup", slog.String("host", host), slog.String("err", err.Error()))
			continue
		}
		logger.Info("lookup", slog.String("host", host), slog.Any("addrs", addrs))
	}
	if *flagNTP != "" {
		if err := queryNTP(logger, stack, *flagNTP); err != nil {
			logger.Warn("ntp", slog.String("err", err.Error()))
		}
	}
	l, err := stack.NewServer(*flagPort)
	if err != nil {
		return errors.Annotate(err, "listen")
	}
	addr := stack.IPv4().Addr
	logger.Info("echo:listening", slog.String("addr", netip.AddrPortFrom(netip.AddrFrom4(addr), *flagPort).String()),
		slog.String("iface", tap.Name()), slog.String("mac", mac.String()))
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for ctx.Err() == nil {
		conn, err := l.Listen(time.Second)
		if err == fixnet.ErrTimeout {
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				break
			}
			return errors.Annotate(err, "accept")
		}
		go echo(logger, conn)
	}
	stack.Dump(os.Stdout)
	return nil
}

func echo(logger *slog.Logger, conn *internet.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	logger.Info("echo:accept", slog.String("remote", remote))
	var line [512]byte
	for {
		conn.SetReadDeadline(time.Now().Add(time.Minute))
		n, err := conn.ReadLine(line[:])
		if err != nil {
			logger.Info("echo:done", slog.String("remote", remote), slog.String("reason", err.Error()))
			return
		}
		if _, err = conn.Write(line[:n]); err == nil {
			err = conn.Flush()
		}
		if err != nil {
			logger.Warn("echo:write", slog.String("remote", remote), slog.String("err", err.Error()))
			return
		}
	}
}

func queryNTP(logger *slog.Logger, stack *internet.Stack, server string) error {
	addr, err := netip.ParseAddr(server)
	if err != nil {
		addrs, err := stack.LookupIPv4(server, 10*time.Second)
		if err != nil {
			return err
		} else if len(addrs) == 0 {
			return errors.NotFoundf("address of %q", server)
		}
		addr = addrs[0]
	}
	if !addr.Is4() {
		return errors.NotValidf("ntp server %q", server)
	}
	res, err := stack.QueryNTP(addr.As4(), 10*time.Second)
	if err != nil {
		return err
	}
	logger.Info("ntp", slog.String("server", addr.String()), slog.Duration("offset", res.Offset),
		slog.Time("server-time", time.Now().Add(res.Offset)))
	return nil
}

func dumpEvery(ctx context.Context, stack *internet.Stack, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fmt.Println("---")
			stack.Dump(os.Stdout)
		}
	}
}

// staticConfig parses the static address flags. An empty addr returns the
// zero configuration, which selects DHCP.
func staticConfig(addr, gateway string, host netip.Prefix) (cfg ipv4.Config, err error) {
	if addr == "" {
		return cfg, nil
	}
	pfx, err := netip.ParsePrefix(addr)
	if err != nil || !pfx.Addr().Is4() {
		return cfg, errors.NotValidf("addr %q", addr)
	}
	cfg.Addr = pfx.Addr().As4()
	mask := net.CIDRMask(pfx.Bits(), 32)
	cfg.Mask = [4]byte(mask)
	switch {
	case gateway != "":
		gw, err := netip.ParseAddr(gateway)
		if err != nil || !gw.Is4() {
			return cfg, errors.NotValidf("gateway %q", gateway)
		}
		cfg.Gateway = gw.As4()
	case host.IsValid() && host.Addr().Is4():
		cfg.Gateway = host.Addr().As4()
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if strings.EqualFold(level, "trace") {
		lvl = internal.LevelTrace
	} else if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.NotValidf("log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
