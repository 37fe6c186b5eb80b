package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/diagram"
	"github.com/panyam/classdraw/editor"
	"github.com/panyam/classdraw/services"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newConnectCmd(opts *Options) *cobra.Command {
	var server, sessionID string
	var follow bool
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "connect <diagram-id>",
		Short: "Join a diagram's live room from the terminal",
		Long: `Join the live room of a diagram, print every change as it is applied and
run editing commands read from stdin, one per line:

  add <name> [x y]            add a class
  link <kind> <from> <to>     draw an edge between two node ids
  select <id>...              replace the selection
  move <dx> <dy>              drag the selection
  delete | copy | paste | undo | redo
  key <chord>                 run a key binding such as ctrl+z

Without --follow the command exits once stdin ends and every edit has been
sent. Undo and redo reach the other editors when syncUndo is set.

Example:
  echo "add Cat 40 40" | classdraw connect 3kf9a2x1
  classdraw connect 3kf9a2x1 --server https://draw.example.com --follow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if server == "" {
				server = "http://" + dialAddress(cfg.Address)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runClient(ctx, clientConfig{
				Server:    server,
				DiagramID: args[0],
				SessionID: sessionID,
				SyncUndo:  cfg.SyncUndo,
				Follow:    follow,
				Timeout:   timeout,
				In:        cmd.InOrStdin(),
				Out:       cmd.OutOrStdout(),
				Logger:    services.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.PrettyLogs || cfg.IsDev()),
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "Server base url (default http://<address>)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (default random)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing changes after stdin ends")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "How long to wait for the first snapshot")
	return cmd
}

type clientConfig struct {
	Server    string
	DiagramID string
	SessionID string
	SyncUndo  bool
	Follow    bool
	Timeout   time.Duration
	In        io.Reader
	Out       io.Writer
	Logger    *slog.Logger
}

// dialAddress turns a listen address such as ":8080" into one to dial.
func dialAddress(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// liveURL is the websocket endpoint of a diagram's room on server.
func liveURL(server, diagramID, sessionID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", server, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: scheme must be http or https", server)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/diagrams/" + diagramID
	u.RawQuery = url.Values{"session": {sessionID}}.Encode()
	return u.String(), nil
}

// runClient joins the room and runs until stdin is done, or until ctx is
// done when following.
func runClient(ctx context.Context, cfg clientConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	session := collab.NewSession(nil, collab.WithSessionID(cfg.SessionID), collab.WithLogger(cfg.Logger))
	target, err := liveURL(cfg.Server, cfg.DiagramID, session.ID)
	if err != nil {
		return err
	}
	channel := collab.NewChannel(session, collab.WebSocketDialer(target, nil))
	var bridgeOpts []collab.BridgeOption
	if cfg.SyncUndo {
		bridgeOpts = append(bridgeOpts, collab.WithHistorySync())
	}
	defer collab.NewBridge(session, channel, bridgeOpts...).Attach()()

	c := &client{session: session, editor: editor.New(session), out: cfg.Out}
	ready := make(chan struct{})
	var once sync.Once
	defer session.Bus().Subscribe(func(ev collab.Event) {
		if _, ok := ev.(collab.Hydrated); ok {
			once.Do(func() { close(ready) })
		}
		c.print(ev)
	})()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cfg.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(channel.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(collab.NewApplier(session).Run(gctx, channel.Inbound()))
	})
	g.Go(func() error {
		defer cancel()
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		case <-time.After(cfg.Timeout):
			return fmt.Errorf("no snapshot of diagram %s from %s within %s", cfg.DiagramID, cfg.Server, cfg.Timeout)
		}
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					if cfg.Follow {
						<-gctx.Done()
						return nil
					}
					return drain(gctx, channel)
				}
				if err := c.exec(line); err != nil {
					c.printf("error: %v\n", err)
				}
			}
		}
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// drain waits until every queued operation has been written.
func drain(ctx context.Context, ch *collab.Channel) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for ch.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ignoreCanceled(ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

type client struct {
	session *collab.Session
	editor  *editor.Editor

	mu  sync.Mutex
	out io.Writer
}

var defaultClassSize = diagram.Size{Width: 160, Height: 80}

func (c *client) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	verb, args := fields[0], fields[1:]
	switch verb {
	case "add":
		if len(args) != 1 && len(args) != 3 {
			return errors.New("usage: add <name> [x y]")
		}
		n := &diagram.Node{Size: defaultClassSize, Data: diagram.NodeData{Name: args[0], Type: diagram.TypeClass}}
		if len(args) == 3 {
			x, y, err := parsePair(args[1], args[2])
			if err != nil {
				return err
			}
			n.Position = diagram.Point{X: x, Y: y}
		}
		return c.editor.AddNode(n)
	case "link":
		if len(args) != 3 {
			return errors.New("usage: link <kind> <from> <to>")
		}
		_, err := c.editor.Connect(args[1], args[2], diagram.EdgeKind(args[0]))
		return err
	case "select":
		c.session.Select(args...)
		return nil
	case "move":
		if len(args) != 2 {
			return errors.New("usage: move <dx> <dy>")
		}
		dx, dy, err := parsePair(args[0], args[1])
		if err != nil {
			return err
		}
		if err := c.editor.DragSelection(dx, dy); err != nil {
			return err
		}
		return c.editor.EndDrag()
	case "key":
		chord := strings.Join(args, "")
		handled, err := c.editor.HandleKey(chord)
		if !handled {
			return fmt.Errorf("%w: no binding for %q", editor.ErrUnknownCommand, chord)
		}
		return err
	}
	return c.editor.Execute(editor.Command(verb))
}

func parsePair(a, b string) (float64, float64, error) {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", a)
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid number %q", b)
	}
	return x, y, nil
}

func (c *client) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

var originColors = map[collab.Provenance]*color.Color{
	collab.Local:   color.New(color.FgGreen),
	collab.Remote:  color.New(color.FgCyan),
	collab.History: color.New(color.FgYellow),
	collab.Hydrate: color.New(color.FgMagenta),
}

// print writes one line per applied change. In-flight drag updates are
// skipped; the terminal move is printed.
func (c *client) print(ev collab.Event) {
	var text string
	switch e := ev.(type) {
	case collab.CellAdded:
		if e.Edge != nil {
			text = fmt.Sprintf("+ %s %s -> %s (%s)", e.Edge.Kind, e.Edge.Source, e.Edge.Target, e.Edge.ID)
		} else if e.Node != nil {
			text = fmt.Sprintf("+ %s %s (%s) at (%g, %g)", e.Node.Data.Type, e.Node.Data.Name, e.Node.ID, e.Node.Position.X, e.Node.Position.Y)
		}
	case collab.CellRemoved:
		text = "- " + e.CellID()
	case collab.NodeMoved:
		text = fmt.Sprintf("~ %s moved to (%g, %g)", e.CellID(), e.Node.Position.X, e.Node.Position.Y)
	case collab.NodeResized:
		text = fmt.Sprintf("~ %s resized to %gx%g", e.CellID(), e.Size.Width, e.Size.Height)
	case collab.NodeRotated:
		text = fmt.Sprintf("~ %s rotated to %g", e.CellID(), e.Angle)
	case collab.NodeDataChanged:
		text = fmt.Sprintf("~ %s is now %s %s", e.CellID(), e.Data.Type, e.Data.Name)
	case collab.Hydrated:
		text = fmt.Sprintf("= synced %d cells", e.Cells)
	}
	if text == "" {
		return
	}
	tag := fmt.Sprintf("%-8s", "["+ev.Provenance().String()+"]")
	if col, ok := originColors[ev.Provenance()]; ok {
		tag = col.Sprint(tag)
	}
	c.printf("%s %s\n", tag, text)
}
