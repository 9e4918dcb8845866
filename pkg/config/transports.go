package config

// TransportConfig describes one transport kind and its endpoints.
// Example YAML:
//
//	transports:
//	  - kind: tcp
//	    listen: [":7777"]
//	    dial:
//	      - address: "10.0.0.2:7777"
//	  - kind: quic
//	    listen: [":4433"]
//	  - kind: ws
//	    dial:
//	      - address: "relay.local:8080/peer"
//	  - kind: winpipe
//	    listen: ["\\\\.\\pipe\\homerun"]
type TransportConfig struct {
	Kind   string           `mapstructure:"kind"`
	Listen []string         `mapstructure:"listen"`
	Dial   []PeerDialConfig `mapstructure:"dial"`
}

// PeerDialConfig describes a target to dial while matchmaking.
// PeerID, when set, pins the expected remote identity.
type PeerDialConfig struct {
	Address string `mapstructure:"address"`
	PeerID  string `mapstructure:"peer_id"`
}
