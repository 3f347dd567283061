package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/relay"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/store"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/npezzotti/go-chatsync/internal/voice"
)

var (
	relayURL     string
	conversation string
	userName     string
	avatarRef    string
	statePath    string
	token        string
	debugAddr    string
)

func main() {
	_ = godotenv.Load()

	flag.StringVar(&relayURL, "relay-url", envOr("CHATSYNC_RELAY_URL", "ws://localhost:8000/ws"), "relay websocket url")
	flag.StringVar(&conversation, "conversation", os.Getenv("CHATSYNC_CONVERSATION"), "conversation id")
	flag.StringVar(&userName, "user", envOr("CHATSYNC_USER", os.Getenv("USER")), "display name")
	flag.StringVar(&avatarRef, "avatar", os.Getenv("CHATSYNC_AVATAR"), "avatar reference url")
	flag.StringVar(&statePath, "state", envOr("CHATSYNC_STATE", "chatsync.db"), "local state database path")
	flag.StringVar(&token, "token", os.Getenv("CHATSYNC_TOKEN"), "session token")
	flag.StringVar(&debugAddr, "debug-addr", "", "address for /debug/vars (disabled when empty)")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatsync] ", log.LstdFlags)

	cfg, err := config.NewConfig(relayURL, conversation, userName, avatarRef, statePath)
	if err != nil {
		logger.Fatal("config:", err)
	}
	cfg.SessionToken = token

	localStore, err := store.NewStore(cfg.StatePath)
	if err != nil {
		logger.Fatal("open local store:", err)
	}
	defer func() {
		if err := localStore.Close(); err != nil {
			logger.Println("close local store:", err)
		}
	}()

	mux := http.NewServeMux()
	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	if debugAddr != "" {
		go func() {
			logger.Println("debug vars:", http.ListenAndServe(debugAddr, mux))
		}()
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := relay.Dial(dialCtx, logger, joinURL(cfg.RelayURL, cfg.ConversationId), cfg.SessionToken)
	cancel()
	if err != nil {
		logger.Fatal("connect:", err)
	}
	defer conn.Close()

	self := types.Participant{
		Id:          uuid.NewString(),
		DisplayName: cfg.UserName,
		AvatarRef:   cfg.AvatarRef,
		Status:      types.StatusOnline,
	}

	// No audio hardware binding ships with the demo client; voice commands
	// report the missing device instead of capturing.
	vm := voice.NewManager(logger, nil, nil, conn, statsUpdater, self.Id, self.DisplayName, cfg.ConversationId)

	sess, err := session.NewSession(logger, self, cfg.ConversationId, conn, conn.Inbound(), localStore, vm, statsUpdater)
	if err != nil {
		logger.Fatal("new session:", err)
	}

	go sess.Run()
	defer sess.Shutdown()

	if err := sess.Join(); err != nil {
		logger.Fatal("join:", err)
	}
	defer func() {
		if err := sess.Leave(); err != nil {
			logger.Println("leave:", err)
		}
	}()

	go printLoop(sess)
	go func() {
		for err := range sess.VoiceErrs() {
			fmt.Fprintln(os.Stderr, "voice:", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case sig := <-sigs:
			logger.Printf("received signal: %s\n", sig)
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if done := handleLine(sess, line); done {
				return
			}
		}
	}
}

func handleLine(sess *session.Session, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		if _, err := sess.SubmitMessage(line, ""); err != nil {
			fmt.Fprintln(os.Stderr, "send:", err)
		}
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/who":
		for _, p := range sess.Participants() {
			fmt.Printf("  %s (%s)\n", p.DisplayName, p.Status)
		}
	case "/react":
		if len(fields) == 3 {
			if err := sess.ToggleReaction(fields[1], fields[2]); err != nil {
				fmt.Fprintln(os.Stderr, "react:", err)
			}
		}
	case "/edit":
		if len(fields) >= 3 {
			if err := sess.EditMessage(fields[1], strings.Join(fields[2:], " ")); err != nil {
				fmt.Fprintln(os.Stderr, "edit:", err)
			}
		}
	case "/delete":
		if len(fields) == 2 {
			if err := sess.DeleteMessage(fields[1]); err != nil {
				fmt.Fprintln(os.Stderr, "delete:", err)
			}
		}
	case "/frame":
		if len(fields) == 2 {
			if err := sess.SelectDecoration(&types.FrameConfig{Id: fields[1]}); err != nil {
				fmt.Fprintln(os.Stderr, "frame:", err)
			}
		}
	case "/voice":
		if err := sess.JoinVoice(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "voice:", err)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", fields[0])
	}
	return false
}

// printLoop renders newly arrived messages. The engine exposes snapshots,
// so the demo simply diffs on a ticker.
func printLoop(sess *session.Session) {
	seen := make(map[string]struct{})
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		for _, msg := range sess.Messages() {
			if _, ok := seen[msg.Id]; ok {
				continue
			}
			seen[msg.Id] = struct{}{}
			fmt.Printf("[%s] %s: %s (%s)\n",
				msg.Timestamp.Format("15:04:05"), msg.SenderId, msg.Content, msg.Status)
		}
	}
}

func joinURL(base, conversationId string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := parsed.Query()
	q.Set("conversation", conversationId)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
