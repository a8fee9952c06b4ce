package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/neary-ai/neary-sub000/internal/domain"
	"github.com/neary-ai/neary-sub000/internal/service"
	"github.com/neary-ai/neary-sub000/internal/transport/ws"
)

var (
	chatAddr           string
	chatConversationID string
	chatTitle          string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running server from the terminal",
	Long: `Open a terminal chat against a running neary server.

Without --conversation a new conversation is created. Approval requests are
answered with /approve <id> or /reject <id>.

Examples:
  neary chat
  neary chat --conversation conv_1a2b3c4d
  neary chat --addr localhost:9000 --title "Trip planning"`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatAddr, "addr", "", "server host:port (default localhost:<http_port>)")
	chatCmd.Flags().StringVarP(&chatConversationID, "conversation", "c", "", "conversation to resume")
	chatCmd.Flags().StringVar(&chatTitle, "title", "Terminal chat", "title of a new conversation")
}

var (
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7"))
	alertStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#D97706"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

func runChat(cmd *cobra.Command, args []string) error {
	addr := chatAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.HTTPPort)
	}

	conversationID := chatConversationID
	if conversationID == "" {
		conv, err := createConversation(addr, chatTitle)
		if err != nil {
			return err
		}
		conversationID = conv.ID
	}

	client, err := dialChat(addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Hello(conversationID); err != nil {
		return err
	}
	fmt.Println(dimStyle.Render("conversation " + conversationID))
	fmt.Println(dimStyle.Render("Type a message and press Enter. /approve <id>, /reject <id>, /quit"))

	go client.ReadEvents()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-interrupt:
			fmt.Println()
			return nil
		case <-client.done:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			done, err := client.handleInput(strings.TrimSpace(line))
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
			if done {
				return nil
			}
		}
	}
}

// createConversation creates a conversation with the server's defaults.
func createConversation(addr, title string) (*domain.Conversation, error) {
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Post("http://"+addr+"/v1/conversations", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr map[string]string
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("failed to create conversation: %s %s", resp.Status, apiErr["error"])
	}
	var conv domain.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

// chatClient is a websocket client bound to one conversation.
type chatClient struct {
	conn           *websocket.Conn
	conversationID string
	done           chan struct{}
	closeOnce      sync.Once

	// printed is how much of the streaming reply is already on screen.
	printed int
}

func dialChat(addr string) (*chatClient, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &chatClient{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

func (c *chatClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

// Hello binds the connection and waits for hello_ack.
func (c *chatClient) Hello(conversationID string) error {
	msg := ws.HelloMessage{BaseMessage: ws.BaseMessage{
		Type:           ws.TypeHello,
		Ts:             time.Now().UnixMilli(),
		ConversationID: conversationID,
	}}
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read hello_ack: %w", err)
	}
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return fmt.Errorf("unmarshal hello_ack: %w", err)
	}
	switch base.Type {
	case ws.TypeHelloAck:
		c.conversationID = conversationID
		return nil
	case ws.TypeError:
		var errMsg ws.ErrorMessage
		json.Unmarshal(data, &errMsg)
		return fmt.Errorf("hello failed: %s - %s", errMsg.Code, errMsg.Message)
	}
	return fmt.Errorf("expected hello_ack, got: %s", base.Type)
}

// handleInput sends one line of user input. It reports true when the user
// asked to quit.
func (c *chatClient) handleInput(input string) (bool, error) {
	if input == "" {
		return false, nil
	}
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/approve", "/reject":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: %s <approval_id>", fields[0])
		}
		response := strings.TrimPrefix(fields[0], "/")
		return false, c.conn.WriteJSON(ws.ApprovalResponseMessage{
			BaseMessage: c.base(ws.TypeApprovalResponse, fields[1]),
			Response:    response,
		})
	}
	return false, c.conn.WriteJSON(ws.UserMessage{
		BaseMessage: c.base(ws.TypeUserMessage, fmt.Sprintf("req_%d", time.Now().UnixNano())),
		Content:     input,
	})
}

func (c *chatClient) base(kind, requestID string) ws.BaseMessage {
	return ws.BaseMessage{
		Type:           kind,
		Ts:             time.Now().UnixMilli(),
		RequestID:      requestID,
		ConversationID: c.conversationID,
	}
}

// ReadEvents prints server frames until the connection closes.
func (c *chatClient) ReadEvents() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				select {
				case <-c.done:
				default:
					fmt.Println(errorStyle.Render("connection closed: " + err.Error()))
				}
			}
			return
		}
		c.render(data)
	}
}

func (c *chatClient) render(data []byte) {
	var base ws.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return
	}
	if base.Type == ws.TypeError {
		var errMsg ws.ErrorMessage
		json.Unmarshal(data, &errMsg)
		fmt.Println(errorStyle.Render(errMsg.Code + ": " + errMsg.Message))
		return
	}

	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	switch ev.Type {
	case domain.EventAssistantDelta:
		if ev.Message == nil || len(ev.Message.Content) < c.printed {
			return
		}
		fmt.Print(assistantStyle.Render(ev.Message.Content[c.printed:]))
		c.printed = len(ev.Message.Content)
	case domain.EventAssistantFinal:
		if ev.Message == nil {
			return
		}
		if c.printed == 0 {
			fmt.Print(assistantStyle.Render(ev.Message.Content))
		} else if len(ev.Message.Content) > c.printed {
			fmt.Print(assistantStyle.Render(ev.Message.Content[c.printed:]))
		}
		fmt.Println()
		c.printed = 0
	case domain.EventAlert:
		if ev.Alert == nil {
			return
		}
		style := alertStyle
		if ev.Alert.Variant == domain.AlertVariantError {
			style = errorStyle
		}
		fmt.Println(style.Render("[" + string(ev.Alert.State) + "] " + ev.Alert.Message))
	case domain.EventNotification:
		if ev.Notification == nil {
			return
		}
		n := ev.Notification
		fmt.Println(noticeStyle.Render(n.Title))
		fmt.Println(n.Body)
		if n.Kind == service.NotificationKindApproval && len(n.Actions) > 0 {
			if id, ok := n.Actions[0].Payload["request_id"].(string); ok {
				fmt.Println(dimStyle.Render("/approve " + id + "  or  /reject " + id))
			}
		}
	case domain.EventStatus:
		if ev.Status != nil {
			fmt.Println(dimStyle.Render(ev.Status.Kind + " " + string(ev.Status.ApprovalStatus)))
		}
	case domain.EventCommand:
		if ev.Command != nil {
			fmt.Println(dimStyle.Render("command: " + ev.Command.Name))
		}
	case domain.EventFile:
		if ev.File != nil {
			fmt.Println(dimStyle.Render("file: " + ev.File.Name))
		}
	}
}
