// caskyctl - an interactive line-protocol client for a running caskyd.
//
// Usage:
//
//	caskyctl [--addr host:port]
//
// Once connected, type commands (PUT, GET, DEL, COMPACT, STATS, VER, QUIT)
// one per line; responses are printed as received. Ctrl-D or QUIT exits.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5050", "caskyd address")
	flag.Parse()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		fmt.Printf("caskyctl: failed to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	server := bufio.NewReader(conn)
	banner, _ := server.ReadString('\n')
	fmt.Print(banner)

	stdin := bufio.NewScanner(os.Stdin)
	fmt.Print("caskyctl> ")
	for stdin.Scan() {
		line := strings.TrimSpace(stdin.Text())
		if line == "" {
			fmt.Print("caskyctl> ")
			continue
		}

		fmt.Fprintf(conn, "%s\n", line)
		resp, err := server.ReadString('\n')
		if err != nil {
			fmt.Printf("caskyctl: connection closed: %v\n", err)
			return
		}
		fmt.Print(resp)

		if strings.HasPrefix(resp, "STATS") {
			// STATS is multi-line; keep reading indented lines up to the
			// memory_bytes line, which the daemon always sends last.
			for {
				more, err := server.ReadString('\n')
				if err != nil {
					break
				}
				fmt.Print(more)
				if !strings.HasPrefix(more, " ") || strings.HasPrefix(more, " memory_bytes=") {
					break
				}
			}
		}

		if strings.ToUpper(line) == "QUIT" {
			return
		}
		fmt.Print("caskyctl> ")
	}
}
