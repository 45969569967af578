package http

import (
	"encoding/json"

	"github.com/haven-im/haven-server/internal/core"
	"github.com/haven-im/haven-server/internal/proto"
)

// inboundToCommand validates a wire envelope and maps it onto a broker
// command. Malformed payload shapes are rejected here, before they can
// touch registry state.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin, proto.InboundTypeLeave, proto.InboundTypeVoiceJoin, proto.InboundTypeVoiceLeave:
		var data proto.ChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.Channel == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel is required"}, nil
		}
		return &core.Command{
			Kind:    channelCommandKind(inbound.Type),
			Channel: data.Channel,
		}, nil, nil

	case proto.InboundTypeVoiceOffer, proto.InboundTypeVoiceAnswer, proto.InboundTypeVoiceICE:
		var data proto.SignalData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.Channel == "" || data.TargetUserID == 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel and target_user_id are required"}, nil
		}
		return &core.Command{
			Kind:         core.CommandVoiceSignal,
			Channel:      data.Channel,
			TargetUserID: data.TargetUserID,
			Signal:       signalKind(inbound.Type),
			Payload:      data.Payload,
		}, nil, nil

	case proto.InboundTypeScreenStart, proto.InboundTypeScreenStop:
		var data proto.ChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.Channel == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "channel is required"}, nil
		}
		return &core.Command{
			Kind:    core.CommandScreenShare,
			Channel: data.Channel,
			Started: inbound.Type == proto.InboundTypeScreenStart,
		}, nil, nil

	case proto.InboundTypeInitiateCall:
		var data proto.InitiateCallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.TargetUserID == 0 {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "target_user_id is required"}, nil
		}
		return &core.Command{
			Kind:         core.CommandInitiateCall,
			TargetUserID: data.TargetUserID,
		}, nil, nil

	case proto.InboundTypeAcceptCall, proto.InboundTypeRejectCall, proto.InboundTypeEndCall:
		var data proto.CallData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.Code == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "code is required"}, nil
		}
		kind := core.CommandAcceptCall
		switch inbound.Type {
		case proto.InboundTypeRejectCall:
			kind = core.CommandRejectCall
		case proto.InboundTypeEndCall:
			kind = core.CommandEndCall
		}
		return &core.Command{
			Kind:     kind,
			CallCode: data.Code,
			Reason:   data.Reason,
		}, nil, nil

	case proto.InboundTypeCallSignal:
		var data proto.CallSignalData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.Code == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "code is required"}, nil
		}
		return &core.Command{
			Kind:     core.CommandCallSignal,
			CallCode: data.Code,
			Payload:  data.Payload,
		}, nil, nil

	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func channelCommandKind(inboundType string) core.CommandKind {
	switch inboundType {
	case proto.InboundTypeLeave:
		return core.CommandLeaveChannel
	case proto.InboundTypeVoiceJoin:
		return core.CommandVoiceJoin
	case proto.InboundTypeVoiceLeave:
		return core.CommandVoiceLeave
	default:
		return core.CommandJoinChannel
	}
}

func signalKind(inboundType string) core.SignalKind {
	switch inboundType {
	case proto.InboundTypeVoiceAnswer:
		return core.SignalAnswer
	case proto.InboundTypeVoiceICE:
		return core.SignalCandidate
	default:
		return core.SignalOffer
	}
}

func wireUser(u core.Identity) proto.WireUser {
	return proto.WireUser{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
	}
}

func wireUsers(users []core.Identity) []proto.WireUser {
	out := make([]proto.WireUser, 0, len(users))
	for _, u := range users {
		out = append(out, wireUser(u))
	}
	return out
}

func wireCall(call *core.CallEvent) proto.EventCall {
	if call == nil {
		return proto.EventCall{}
	}
	return proto.EventCall{
		Code:   call.Code,
		From:   wireUser(call.From),
		To:     wireUser(call.To),
		Reason: call.Reason,
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventUsersUpdate:
		return eventOutbound(proto.EventUsersUpdate, proto.EventUsers{Channel: event.Channel, Users: wireUsers(event.Users)})
	case core.EventUserJoined:
		return eventOutbound(proto.EventUserJoined, proto.EventUser{Channel: event.Channel, User: wireUser(event.User)})
	case core.EventUserLeft:
		return eventOutbound(proto.EventUserLeft, proto.EventUser{Channel: event.Channel, User: wireUser(event.User)})
	case core.EventVoiceExistingUsers:
		return eventOutbound(proto.EventVoiceExistingUsers, proto.EventUsers{Channel: event.Channel, Users: wireUsers(event.Users)})
	case core.EventVoiceUserJoined:
		return eventOutbound(proto.EventVoiceUserJoined, proto.EventUser{Channel: event.Channel, User: wireUser(event.User)})
	case core.EventVoiceUserLeft:
		return eventOutbound(proto.EventVoiceUserLeft, proto.EventUser{Channel: event.Channel, User: wireUser(event.User)})
	case core.EventVoiceUsersUpdate:
		return eventOutbound(proto.EventVoiceUsersUpdate, proto.EventUsers{Channel: event.Channel, Users: wireUsers(event.Users)})
	case core.EventVoiceSignal:
		return eventOutbound(voiceSignalEventName(event.Signal), proto.EventSignal{
			Channel: event.Channel,
			From:    wireUser(event.User),
			Payload: event.Payload,
		})
	case core.EventScreenShare:
		name := proto.EventScreenStopped
		if event.Started {
			name = proto.EventScreenStarted
		}
		return eventOutbound(name, proto.EventUser{Channel: event.Channel, User: wireUser(event.User)})
	case core.EventCallRinging:
		return eventOutbound(proto.EventCallRinging, wireCall(event.Call))
	case core.EventCallIncoming:
		return eventOutbound(proto.EventIncomingCall, wireCall(event.Call))
	case core.EventCallAccepted:
		return eventOutbound(proto.EventCallAccepted, wireCall(event.Call))
	case core.EventCallRejected:
		return eventOutbound(proto.EventCallRejected, wireCall(event.Call))
	case core.EventCallEnded:
		return eventOutbound(proto.EventCallEnded, wireCall(event.Call))
	case core.EventCallSignal:
		data := proto.EventCallSignalData{From: wireUser(event.User), Payload: event.Payload}
		if event.Call != nil {
			data.Code = event.Call.Code
		}
		return eventOutbound(proto.EventCallSignal, data)
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func voiceSignalEventName(kind core.SignalKind) string {
	switch kind {
	case core.SignalAnswer:
		return proto.EventVoiceAnswer
	case core.SignalCandidate:
		return proto.EventVoiceICE
	default:
		return proto.EventVoiceOffer
	}
}

func eventOutbound(name string, data any) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: name,
		Data:  data,
	}
}
