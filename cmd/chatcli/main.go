// Command chatcli is a terminal client for the realtime router. Each line
// read from stdin is sent to the configured recipient and conversation.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lendloop/realtime/internal/auth"
	"github.com/lendloop/realtime/internal/server"
	"github.com/lendloop/realtime/internal/types"
	"github.com/lendloop/realtime/pkg/client"
	"go.uber.org/zap"
)

func issueToken(signingKey, userId, name string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		return "", fmt.Errorf("decode signing key: %w", err)
	}

	return auth.NewJWTVerifier(key).Issue(auth.Identity{UserId: userId, DisplayName: name}, 24*time.Hour)
}

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "router websocket url")
	token := flag.String("token", "", "bearer token; issued locally from -signing-key when empty")
	signingKey := flag.String("signing-key", os.Getenv("LENDLOOP_SIGNING_KEY"), "base64 signing key used to issue a dev token")
	userId := flag.String("user", "", "user id for an issued token")
	name := flag.String("name", "", "display name for an issued token")
	to := flag.String("to", "", "recipient user id")
	conversation := flag.String("conversation", "", "conversation id")
	verbose := flag.Bool("v", false, "log session internals")
	flag.Parse()

	if *to == "" || *conversation == "" {
		log.Fatalln("-to and -conversation are required")
	}

	credential := *token
	if credential == "" {
		if *userId == "" || *signingKey == "" {
			log.Fatalln("either -token or -user with -signing-key is required")
		}

		var err error
		if credential, err = issueToken(*signingKey, *userId, *name); err != nil {
			log.Fatalln("issue token:", err)
		}
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	session := client.NewSession(*url, client.Options{Logger: logger})
	session.OnMessage(func(m types.Message) {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format(time.Kitchen), m.Sender.Id, m.Content)
	})
	session.OnNewConversation(func(n server.ConversationNotification) {
		fmt.Printf("* %s started conversation %s\n", n.Sender.Id, n.Conversation.Id)
	})
	session.OnError(func(err error) {
		fmt.Fprintln(os.Stderr, "error:", err)
	})

	failed := make(chan struct{})
	var failOnce sync.Once
	session.OnStateChange(func(s client.State) {
		fmt.Fprintln(os.Stderr, "*", s)
		if s == client.StateFailed {
			failOnce.Do(func() { close(failed) })
		}
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := session.Connect(ctx, credential); err != nil {
		log.Fatalln("connect:", err)
	}
	defer session.Disconnect()

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
		case <-ctx.Done():
			return
		case <-failed:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if _, err := session.SendMessage(*to, line, *conversation); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
	}
}
