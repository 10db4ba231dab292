// casky-bench - benchmark tool for a running caskyd, driven over its
// line protocol instead of RESP.
//
// Usage:
//
//	casky-bench [flags]
//
// Flags:
//
//	--addr string      Server address (default "localhost:5050")
//	--clients int      Number of parallel clients (default 50)
//	--requests int     Total number of requests (default 100000)
//	--test string      Test type: put,get,mixed (default "mixed")
package main

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	flag "github.com/spf13/pflag"
)

func main() {
	addr := flag.String("addr", "localhost:5050", "Server address")
	clients := flag.Int("clients", 50, "Number of parallel clients")
	requests := flag.Int("requests", 100000, "Total number of requests")
	testType := flag.String("test", "mixed", "Test type: put,get,mixed")
	flag.Parse()

	fmt.Println("====== casky-bench ======")
	fmt.Printf("Server: %s\n", *addr)
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Requests: %d\n", *requests)
	fmt.Printf("Test: %s\n", *testType)
	fmt.Println()

	var completed int64
	var failed int64
	reqPerClient := *requests / *clients

	latencies := make([][]int64, *clients)

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		latencies[i] = make([]int64, 0, reqPerClient)
		go func(clientID int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", *addr)
			if err != nil {
				atomic.AddInt64(&failed, int64(reqPerClient))
				return
			}
			defer conn.Close()
			reader := bufio.NewReader(conn)
			reader.ReadString('\n') // discard banner

			for j := 0; j < reqPerClient; j++ {
				key := fmt.Sprintf("key:%d:%d", clientID, j)
				value := fmt.Sprintf("value:%d:%d", clientID, j)

				var line string
				switch *testType {
				case "put":
					line = fmt.Sprintf("PUT %s %s", key, value)
				case "get":
					line = fmt.Sprintf("GET %s", key)
				default: // mixed
					if j%2 == 0 {
						line = fmt.Sprintf("PUT %s %s", key, value)
					} else {
						line = fmt.Sprintf("GET %s", key)
					}
				}

				t0 := time.Now()
				if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				if _, err := reader.ReadString('\n'); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				latencies[clientID] = append(latencies[clientID], time.Since(t0).Nanoseconds())
				atomic.AddInt64(&completed, 1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	var all []int64
	for _, l := range latencies {
		all = append(all, l...)
	}
	sortInt64s(all)

	fmt.Println("====== Results ======")
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Completed: %d\n", completed)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Requests/sec: %.2f\n", float64(completed)/elapsed.Seconds())
	fmt.Printf("p50 latency: %d us\n", percentile(all, 0.50)/1000)
	fmt.Printf("p99 latency: %d us\n", percentile(all, 0.99)/1000)
	fmt.Printf("p999 latency: %d us\n", percentile(all, 0.999)/1000)
}

// sortInt64s sorts a slice of int64 using insertion sort, adequate for the
// per-run sample sizes this tool produces.
func sortInt64s(a []int64) {
	for i := 1; i < len(a); i++ {
		key := a[i]
		j := i - 1
		for j >= 0 && a[j] > key {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = key
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
