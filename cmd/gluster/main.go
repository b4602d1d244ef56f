// Command gluster is the operator CLI of the local management daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"glusterd/internal/dict"
	"glusterd/internal/peer"
	"glusterd/internal/transport/mgmtrpc"
	"glusterd/internal/volume"
	"glusterd/internal/wire"
)

var errUsage = errors.New(`usage:
  gluster [-addr host:port] [-timeout d] peer probe <host>
  gluster [-addr host:port] [-timeout d] peer detach <host>
  gluster [-addr host:port] [-timeout d] peer status
  gluster [-addr host:port] [-timeout d] volume create <name> [replica|stripe <n>] <host:/path>...`)

// CLI is the subset of the operator service the commands use.
type CLI interface {
	Probe(ctx context.Context, in *wire.CLIProbeRequest, opts ...grpc.CallOption) (*wire.CLIProbeResponse, error)
	Deprobe(ctx context.Context, in *wire.CLIDeprobeRequest, opts ...grpc.CallOption) (*wire.CLIDeprobeResponse, error)
	ListPeers(ctx context.Context, in *wire.CLIListPeersRequest, opts ...grpc.CallOption) (*wire.CLIListPeersResponse, error)
	CreateVolume(ctx context.Context, in *wire.CLICreateVolumeRequest, opts ...grpc.CallOption) (*wire.CLICreateVolumeResponse, error)
}

func main() {
	fs := flag.NewFlagSet("gluster", flag.ContinueOnError)
	addr := fs.String("addr", "127.0.0.1:24007", "address of the local glusterd")
	timeout := fs.Duration("timeout", 2*time.Minute, "request timeout")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, mgmtrpc.NewCLIClient(conn), fs.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cli CLI, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}

	switch args[0] + " " + args[1] {
	case "peer probe":
		if len(args) != 3 {
			return errUsage
		}
		resp, err := cli.Probe(ctx, &wire.CLIProbeRequest{Hostname: args[2]})
		if err != nil {
			return err
		}
		if resp.OpRet != 0 {
			return fmt.Errorf("peer probe: failed: %s", reason(resp.OpErrno, resp.Error))
		}
		fmt.Fprintln(out, "peer probe: success")

	case "peer detach":
		if len(args) != 3 {
			return errUsage
		}
		resp, err := cli.Deprobe(ctx, &wire.CLIDeprobeRequest{Hostname: args[2]})
		if err != nil {
			return err
		}
		if resp.OpRet != 0 {
			return fmt.Errorf("peer detach: failed: %s", reason(resp.OpErrno, resp.Error))
		}
		fmt.Fprintln(out, "peer detach: success")

	case "peer status":
		resp, err := cli.ListPeers(ctx, &wire.CLIListPeersRequest{Flags: wire.ListAll})
		if err != nil {
			return err
		}
		if resp.OpRet != 0 {
			return errors.New("peer status: failed")
		}
		return printPeers(out, resp.Friends)

	case "volume create":
		v, err := parseVolumeCreate(args[2:])
		if err != nil {
			return err
		}
		blob, err := dict.Serialize(v.Params())
		if err != nil {
			return err
		}
		resp, err := cli.CreateVolume(ctx, &wire.CLICreateVolumeRequest{Bricks: blob})
		if err != nil {
			return err
		}
		if resp.OpRet != 0 {
			msg := reason(resp.OpErrno, resp.Error)
			if len(resp.FailedPeers) > 0 {
				msg += " (failed on " + strings.Join(resp.FailedPeers, ", ") + ")"
			}
			return fmt.Errorf("volume create: %s: failed: %s", v.Name, msg)
		}
		fmt.Fprintf(out, "volume create: %s: success\n", resp.Volname)

	default:
		return errUsage
	}
	return nil
}

func reason(errno wire.Errno, msg string) string {
	if msg != "" {
		return msg
	}
	return errno.String()
}

// parseVolumeCreate reads <name> [replica|stripe <n>] <brick>...
func parseVolumeCreate(args []string) (volume.Volume, error) {
	if len(args) < 2 {
		return volume.Volume{}, errUsage
	}
	v := volume.Volume{Name: args[0]}
	rest := args[1:]

	sub := 0
	if rest[0] == "replica" || rest[0] == "stripe" {
		if len(rest) < 3 {
			return volume.Volume{}, errUsage
		}
		t, err := volume.ParseType(rest[0])
		if err != nil {
			return volume.Volume{}, err
		}
		n, err := strconv.Atoi(rest[1])
		if err != nil || n < 2 {
			return volume.Volume{}, fmt.Errorf("%s count must be a number of at least 2, got %q", rest[0], rest[1])
		}
		v.Type, sub = t, n
		rest = rest[2:]
	}

	v.Bricks = rest
	if sub > 0 && len(v.Bricks)%sub != 0 {
		return volume.Volume{}, fmt.Errorf("number of bricks (%d) is not a multiple of %s count %d", len(v.Bricks), v.Type, sub)
	}
	return v, nil
}

func printPeers(out io.Writer, blob []byte) error {
	if len(blob) == 0 {
		fmt.Fprintln(out, "Number of Peers: 0")
		return nil
	}

	d, err := dict.Unserialize(blob)
	if err != nil {
		return fmt.Errorf("peer status: %w", err)
	}
	count, err := d.Int32("count")
	if err != nil {
		return fmt.Errorf("peer status: %w", err)
	}

	rows := make([][]string, 0, count)
	for i := 1; i <= int(count); i++ {
		host, _ := d.String(fmt.Sprintf("friend%d.hostname", i))
		id, _ := d.String(fmt.Sprintf("friend%d.uuid", i))
		state, _ := d.Int32(fmt.Sprintf("friend%d.state", i))
		rows = append(rows, []string{host, id, peer.State(state).String()})
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("HOSTNAME", "UUID", "STATE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	fmt.Fprintf(out, "Number of Peers: %d\n", count)
	fmt.Fprintln(out, t.Render())
	return nil
}
