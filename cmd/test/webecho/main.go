package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Port int    `long:"port" description:"Port to listen on (falls back to the PORT environment variable)"`
	Host string `long:"host" description:"Host to bind (falls back to the HOST environment variable)"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
  <title>webecho</title>
</head>
<body>
  <h1>webecho</h1>
  <p>Echo test service for development sessions.</p>
</body>
</html>
`

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Webecho, opts: %+v...\n", opts)

	port := opts.Port
	if port == 0 {
		if fromEnv := os.Getenv("PORT"); fromEnv != "" {
			port, err = strconv.Atoi(fromEnv)
			if err != nil {
				fmt.Printf("Invalid PORT environment variable: %v\n", err)
				os.Exit(1)
			}
		}
	}
	if port == 0 {
		fmt.Println("Port is required")
		os.Exit(1)
	}

	host := opts.Host
	if host == "" {
		host = os.Getenv("HOST")
	}
	if host == "" {
		host = "127.0.0.1"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleIndex)
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/ws", handleEcho)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	server := &http.Server{Addr: addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	// Enable signal handling
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	fmt.Printf("Webecho is ready on %s\n", addr)

	select {
	case receivedSignal := <-sig:
		fmt.Printf("Webecho received signal: %v\n", receivedSignal)
	case err := <-serveErr:
		fmt.Fprintf(os.Stderr, "Webecho server error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	fmt.Printf("Webecho stopped\n")
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleEcho upgrades the connection and echoes every message back
func handleEcho(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Websocket upgrade error: %v\n", err)
		return
	}
	defer conn.Close()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				fmt.Fprintf(os.Stderr, "Websocket read error: %v\n", err)
			}
			return
		}
		if err := conn.WriteMessage(messageType, payload); err != nil {
			fmt.Fprintf(os.Stderr, "Websocket write error: %v\n", err)
			return
		}
	}
}
