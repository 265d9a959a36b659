package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"query_gateway/internal/model"
	"query_gateway/internal/service/discovery"
	"query_gateway/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/gorilla/websocket"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const helpText = `[::b]commands[::-]
  /use <deployment>   switch deployment
  /meta               fetch indexer metadata
  /discover           resolve the deployment
  /token              request a fresh token
  /help               this text
anything else is sent as a GraphQL query`

type (
	App struct {
		app    *tview.Application
		output *tview.TextView
		events *tview.TextView
		input  *tview.InputField

		client     *Client
		session    *Session
		deployment string

		conn *websocket.Conn
	}
)

func NewApp(client *Client, deployment string) *App {
	return &App{
		app:        tview.NewApplication(),
		client:     client,
		session:    NewSession(client),
		deployment: deployment,
	}
}

// Run blocks until the console is closed. watch subscribes to overlay
// events when the gateway exposes its admin socket.
func (c *App) Run(ctx context.Context, watch bool) error {
	c.build()

	if watch {
		conn, err := c.client.Subscribe(ctx)
		if err != nil {
			c.printEvent(fmt.Sprintf("[red]subscribe failed:[-] %v", err))
		} else {
			c.conn = conn
			go c.listenOnSocket()
		}
	}

	c.print(fmt.Sprintf("[yellow]signing as %s[-]\n%s", c.client.User().Hex(), helpText))
	return c.app.Run()
}

func (c *App) Stop() {
	if c.conn != nil {
		c.conn.Close()
	}
	c.app.Stop()
}

func (c *App) build() {
	c.output = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.output.SetBorder(true)
	c.setTitle()

	c.events = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	c.events.SetBorder(true).SetTitle(" Announcements ")

	c.input = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0)
	c.input.SetBorder(true).SetTitle(" Query ")

	c.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := c.input.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		c.input.SetText("")
		go c.execute(context.Background(), text)
	})

	top := tview.NewFlex().
		AddItem(c.output, 0, 3, false).
		AddItem(c.events, 0, 1, false)

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(top, 0, 1, false).
		AddItem(c.input, 3, 0, true)

	c.app.SetRoot(layout, true).SetFocus(c.input)
}

func (c *App) setTitle() {
	c.output.SetTitle(fmt.Sprintf(" %s ", c.deployment))
}

func (c *App) execute(ctx context.Context, line string) {
	c.print(fmt.Sprintf("[yellow]> %s[-]", tview.Escape(line)))

	out, err := c.dispatch(ctx, line)
	if err != nil {
		c.print(fmt.Sprintf("[red]%s[-]", tview.Escape(err.Error())))
		return
	}
	if out != "" {
		c.print(tview.Escape(out))
	}
}

// dispatch runs one console line and returns what to show.
func (c *App) dispatch(ctx context.Context, line string) (string, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/help":
		return helpText, nil
	case "/use":
		if arg == "" {
			return "", fmt.Errorf("usage: /use <deployment>")
		}
		c.deployment = arg
		c.app.QueueUpdateDraw(c.setTitle)
		return "using " + arg, nil
	}

	if c.deployment == "" {
		return "", fmt.Errorf("no deployment selected, use /use <deployment>")
	}

	switch cmd {
	case "/meta":
		out, err := c.client.Metadata(ctx, c.deployment)
		return indent(out), err
	case "/discover":
		res, err := c.client.Discover(ctx, c.deployment)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s via %s", res.URI, res.Peer), nil
	case "/token":
		c.session.forget(c.deployment)
		tok, err := c.session.Token(ctx, c.deployment)
		if err != nil {
			return "", err
		}
		return "token expires " + expiry(tok).Local().Format("15:04:05"), nil
	}

	if strings.HasPrefix(cmd, "/") {
		return "", fmt.Errorf("unknown command %s", cmd)
	}

	envelope, err := Envelope(line)
	if err != nil {
		return "", err
	}
	out, err := c.session.Query(ctx, c.deployment, envelope)
	return indent(out), err
}

func indent(data []byte) string {
	var v any
	if json.Unmarshal(data, &v) != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(out)
}

func (c *App) listenOnSocket() {
	for {
		var frame model.AdminResponse
		if err := c.conn.ReadJSON(&frame); err != nil {
			log.Debug("admin socket closed", zap.Error(err))
			c.printEvent("[red]event stream closed[-]")
			return
		}
		if frame.Method != model.AdminEvent {
			continue
		}

		var ev discovery.Event
		if err := json.Unmarshal(frame.Result, &ev); err != nil {
			log.Error("unmarshal event failed", zap.Error(err))
			continue
		}
		c.printEvent(formatEvent(ev))
	}
}

func formatEvent(ev discovery.Event) string {
	color := "green"
	switch ev.Kind {
	case discovery.EventWithdraw, discovery.EventEvict:
		color = "red"
	case discovery.EventSuspect:
		color = "yellow"
	}
	line := fmt.Sprintf("[%s]%s[-] %s %s", color, ev.Kind, ev.Time.Format("15:04:05"), tview.Escape(ev.DeploymentID))
	if ev.PeerID != "" {
		line += " @ " + tview.Escape(shortPeer(ev.PeerID))
	}
	return line
}

func shortPeer(id string) string {
	if len(id) > 12 {
		return id[:6] + ".." + id[len(id)-4:]
	}
	return id
}

func (c *App) print(text string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintln(c.output, text)
		c.output.ScrollToEnd()
	})
}

func (c *App) printEvent(text string) {
	c.app.QueueUpdateDraw(func() {
		fmt.Fprintln(c.events, text)
		c.events.ScrollToEnd()
	})
}
