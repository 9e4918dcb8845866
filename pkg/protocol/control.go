package protocol

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct maps the ack onto a structpb body for the proto codec.
func (a HelloAck) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"ok":       a.OK,
		"match_id": a.MatchID,
		"reason":   a.Reason,
	})
}

// HelloAckFromStruct is the inverse of HelloAck.ToStruct.
func HelloAckFromStruct(s *structpb.Struct) HelloAck {
	f := s.GetFields()
	return HelloAck{
		OK:      f["ok"].GetBoolValue(),
		MatchID: f["match_id"].GetStringValue(),
		Reason:  f["reason"].GetStringValue(),
	}
}

func (b Bye) ToStruct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"reason": b.Reason})
}

func ByeFromStruct(s *structpb.Struct) Bye {
	return Bye{Reason: s.GetFields()["reason"].GetStringValue()}
}
