package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Tyrowin/chatrelay/internal/client"
	"github.com/Tyrowin/chatrelay/internal/logger"
	"github.com/Tyrowin/chatrelay/internal/protocol"
)

const loginTimeout = 5 * time.Second

func main() {
	addr := flag.String("addr", "localhost:8080", "server address (host:port)")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error, none)")
	flag.Parse()

	if err := logger.Init(logger.ParseLevel(*logLevel), "", true); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	c := client.New(*addr, printFrame)

	fmt.Printf("Chat relay client. Server: %s\n", *addr)
	fmt.Println("Type 'help' for the command list.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !runCommand(c, line) {
			break
		}
	}

	_ = c.Disconnect()
	fmt.Println("Bye.")
}

// runCommand executes one shell line and reports whether the loop should
// continue.
func runCommand(c *client.Client, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "connect":
		report(c.Connect())

	case "disconnect":
		report(c.Disconnect())

	case "login":
		username, password, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Println("Usage: login <username> <password>")
			return true
		}
		if err := c.Login(username, strings.TrimSpace(password), loginTimeout); err != nil {
			fmt.Printf("Login failed: %v\n", err)
		} else {
			fmt.Printf("Logged in as %s\n", c.Username())
		}

	case "logout":
		report(c.Logout())

	case "send":
		receiver, content, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Println("Usage: send <username> <message>")
			return true
		}
		report(c.Send(receiver, content))

	case "broadcast":
		if rest == "" {
			fmt.Println("Usage: broadcast <message>")
			return true
		}
		report(c.Broadcast(rest))

	case "group":
		group, content, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Println("Usage: group <name> <message>")
			return true
		}
		report(c.Group(group, content))

	case "history":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			fmt.Println("Usage: history <target> [start] [end]")
			return true
		}
		target, start, end := fields[0], "", ""
		if len(fields) > 1 {
			start = fields[1]
		}
		if len(fields) > 2 {
			end = fields[2]
		}
		report(c.RequestHistory(target, start, end))

	case "status":
		report(c.RequestStatus())

	case "help":
		printHelp()

	case "quit", "exit":
		return false

	default:
		fmt.Printf("Unknown command %q. Type 'help' for the command list.\n", cmd)
	}
	return true
}

func report(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
	} else {
		fmt.Println("OK")
	}
}

func printHelp() {
	fmt.Println(`Commands:
  connect                      connect to the server
  disconnect                   close the connection
  login <username> <password>  authenticate
  logout                       end the session, keep the connection
  send <username> <message>    private message
  broadcast <message>          message every online user
  group <name> <message>       message a group
  history <target> [from] [to] request message history
  status                       request server status
  help                         this list
  quit                         exit`)
}

// printFrame renders one inbound frame. It runs on the receive goroutine.
func printFrame(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeOK:
		fmt.Printf("\n[SUCCESS] %s\n> ", responseText(msg.Content))
	case protocol.TypeError:
		fmt.Printf("\n[ERROR] %s\n> ", responseText(msg.Content))
	case protocol.TypeMsg:
		fmt.Printf("\n[MESSAGE] %s: %s\n> ", msg.Sender, msg.Content)
	case protocol.TypeBroadcast:
		fmt.Printf("\n[BROADCAST] %s: %s\n> ", msg.Sender, msg.Content)
	case protocol.TypeGroup:
		fmt.Printf("\n[GROUP] %s -> %s: %s\n> ", msg.Sender, msg.Receiver, msg.Content)
	case protocol.TypeHistory:
		fmt.Printf("\n[HISTORY] %s\n> ", msg.Content)
	case protocol.TypeStatus:
		fmt.Printf("\n[STATUS] %s\n> ", msg.Content)
	}
}

// responseText strips the numeric code from a CODE|MESSAGE response
// content field.
func responseText(content string) string {
	if _, message, found := strings.Cut(content, "|"); found {
		return message
	}
	return content
}
