// Command homerun-ctl drives a running homerun-peer through its admin listener.
//
//	homerun-ctl -addr 127.0.0.1:8088 status
//	homerun-ctl player pitcher
//	homerun-ctl throw curve 0,1.8,0 0,-0.5,-38
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8088", "admin listener of the peer")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: homerun-ctl [flags] status|balls|peers|local|play|end [reason]|dismiss|quit|player <type>|throw <kind> <pos> <vel>|hit <id> <pos> <vel>")
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	method, path, body, err := request(args)
	if err != nil {
		fatalf("%v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, "http://"+*addr+path, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		fatalf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(out)))
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, out, "", "  ") == nil {
		fmt.Println(pretty.String())
		return
	}
	fmt.Println(resp.Status)
}

func request(args []string) (method, path string, body []byte, err error) {
	switch cmd := args[0]; cmd {
	case "status":
		return http.MethodGet, "/match", nil, nil
	case "balls", "peers":
		return http.MethodGet, "/" + cmd, nil, nil
	case "local", "play", "dismiss":
		return http.MethodPost, "/match/" + cmd, nil, nil
	case "end":
		p := "/match/end"
		if len(args) > 1 {
			p += "?reason=" + args[1]
		}
		return http.MethodPost, p, nil, nil
	case "quit":
		return http.MethodPost, "/quit", nil, nil
	case "player":
		if len(args) != 2 {
			return "", "", nil, fmt.Errorf("player needs a type")
		}
		return http.MethodPost, "/match/player/" + args[1], nil, nil
	case "throw":
		if len(args) != 4 {
			return "", "", nil, fmt.Errorf("throw needs kind, position and velocity")
		}
		pos, vel, err := vectors(args[2], args[3])
		if err != nil {
			return "", "", nil, err
		}
		body, err = json.Marshal(map[string]any{"kind": args[1], "position": pos, "velocity": vel})
		return http.MethodPost, "/balls/throw", body, err
	case "hit":
		if len(args) != 4 {
			return "", "", nil, fmt.Errorf("hit needs id, position and velocity")
		}
		pos, vel, err := vectors(args[2], args[3])
		if err != nil {
			return "", "", nil, err
		}
		body, err = json.Marshal(map[string]any{"position": pos, "velocity": vel})
		return http.MethodPost, "/balls/" + args[1] + "/hit", body, err
	default:
		return "", "", nil, fmt.Errorf("unknown command %q", cmd)
	}
}

type vec struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func vectors(pos, vel string) (vec, vec, error) {
	p, err := parseVec(pos)
	if err != nil {
		return vec{}, vec{}, err
	}
	v, err := parseVec(vel)
	return p, v, err
}

func parseVec(s string) (vec, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return vec{}, fmt.Errorf("vector %q: want x,y,z", s)
	}
	var f [3]float32
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return vec{}, fmt.Errorf("vector %q: %w", s, err)
		}
		f[i] = float32(n)
	}
	return vec{f[0], f[1], f[2]}, nil
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", a...)
	os.Exit(1)
}
