// Command homerun-genframe writes sample wire frames for every game message,
// one file per message and body format, for interop checks by other clients.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"homerun/pkg/physics"
	"homerun/pkg/protocol"
	"homerun/pkg/protocol/codec"
)

type sample struct {
	name  string
	typ   uint8
	flags uint16
	body  any
}

func main() {
	outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
	formats := flag.String("formats", "cbor,json", "comma separated body formats for game messages")
	flag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	target := physics.V(0, 0.9, -18.4)
	samples := []sample{
		{"ball_throw", protocol.MsgBallThrow, protocol.FlagHasExtra, protocol.BallThrow{
			ID: 4, Kind: 1, Position: physics.V(0.1, 1.8, 0), Velocity: physics.V(0, -0.5, -38), Extra: &target,
		}},
		{"ball_hit", protocol.MsgBallHit, 0, protocol.BallHit{
			ID: 4, Position: physics.V(0, 1, -18), Velocity: physics.V(2, 14, 31),
		}},
		{"ball_remove", protocol.MsgBallRemove, 0, protocol.BallRemove{ID: 4}},
		{"avatar_pose", protocol.MsgAvatarPose, 0, protocol.AvatarPose{
			Head: protocol.Transform{Position: physics.V(0, 1.7, 0), Rotation: [4]float32{0, 0, 0, 1}},
		}},
	}

	reg := codec.NewRegistry()
	for _, fs := range strings.Split(*formats, ",") {
		fs = strings.ToLower(strings.TrimSpace(fs))
		f, err := protocol.ParseFormat(fs)
		if err != nil {
			log.Fatal(err)
		}
		for i, s := range samples {
			h := protocol.Header{Type: s.typ, Flags: s.flags, Seq: uint32(i + 1), Tick: 72}
			writeOut(*outDir, fmt.Sprintf("frame_%s_%s.bin", s.name, fs), mustFrame(reg, h, f, s.body))
		}
	}

	bye, err := protocol.Bye{Reason: "quit"}.ToStruct()
	if err != nil {
		log.Fatal(err)
	}
	h := protocol.Header{Type: protocol.MsgBye, Seq: 1, Tick: 72}
	writeOut(*outDir, "frame_bye_proto.bin", mustFrame(reg, h, protocol.FormatProto, bye))

	fmt.Println("Generated frames in", *outDir)
}

func mustFrame(reg *codec.Registry, h protocol.Header, f protocol.Format, v any) []byte {
	b, err := protocol.BuildFrame(reg, h, f, v)
	if err != nil {
		log.Fatalf("%s/%s: %v", protocol.TypeName(h.Type), f, err)
	}
	return b
}

func writeOut(dir, name string, b []byte) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-32s %5d bytes  head: %s\n", name, len(b), shortHex(b, 32))
}

func shortHex(b []byte, n int) string {
	if n > len(b) {
		n = len(b)
	}
	enc := hex.EncodeToString(b[:n])
	if len(b) > n {
		enc += "..."
	}
	var out []string
	for i := 0; i < len(enc); i += 4 {
		out = append(out, enc[i:min(i+4, len(enc))])
	}
	return strings.Join(out, " ")
}
