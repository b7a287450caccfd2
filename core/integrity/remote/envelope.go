package remote

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-proctor/core/integrity"
)

// Envelope types sent by the browser shim.
const (
	TypeEvent         = "event"
	TypeFullscreen    = "fullscreen"
	TypePosition      = "position"
	TypePositionError = "position_error"
	TypeDevice        = "device"
)

// Command names sent back to the browser shim.
const (
	CmdRequestFullscreen  = "request_fullscreen"
	CmdWatchPosition      = "watch_position"
	CmdClearWatch         = "clear_watch"
	CmdGetCurrentPosition = "get_current_position"
	CmdShowToast          = "show_toast"
)

// Event targets.
const (
	TargetDocument = "document"
	TargetWindow   = "window"
)

// ErrInvalidEnvelope is returned for envelopes that can't be dispatched.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is one telemetry message from the browser shim.
type Envelope struct {
	Seq  int64                  `json:"seq,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Verdict tells the shim what the handlers did with a DOM event.
type Verdict struct {
	Seq       int64 `json:"seq,omitempty"`
	Prevented bool  `json:"prevented"`
	Stopped   bool  `json:"stopped"`
}

// Command asks the shim to call a browser API on behalf of a detector.
type Command struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Capabilities are the browser APIs the shim detected.
type Capabilities struct {
	Fullscreen  bool `json:"fullscreen"`
	Geolocation bool `json:"geolocation"`
	Devices     bool `json:"devices"`
}

type eventPayload struct {
	Target   string `mapstructure:"target"`
	Type     string `mapstructure:"type"`
	Key      string `mapstructure:"key"`
	CtrlKey  bool   `mapstructure:"ctrl_key"`
	ShiftKey bool   `mapstructure:"shift_key"`
	AltKey   bool   `mapstructure:"alt_key"`
	MetaKey  bool   `mapstructure:"meta_key"`
	Hidden   *bool  `mapstructure:"hidden"`
}

type fullscreenPayload struct {
	Fullscreen bool `mapstructure:"fullscreen"`
}

type positionPayload struct {
	WatchID   int       `mapstructure:"watch_id"`
	RequestID int       `mapstructure:"request_id"`
	Latitude  *float64  `mapstructure:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64  `mapstructure:"longitude" validate:"required,min=-180,max=180"`
	Accuracy  float64   `mapstructure:"accuracy" validate:"min=0"`
	Altitude  *float64  `mapstructure:"altitude"`
	Speed     *float64  `mapstructure:"speed"`
	Heading   *float64  `mapstructure:"heading"`
	Timestamp time.Time `mapstructure:"timestamp"`
}

func (p positionPayload) sample() integrity.LocationSample {
	return integrity.LocationSample{
		Latitude:  *p.Latitude,
		Longitude: *p.Longitude,
		Accuracy:  p.Accuracy,
		Altitude:  p.Altitude,
		Speed:     p.Speed,
		Heading:   p.Heading,
		Timestamp: p.Timestamp,
	}
}

type positionErrorPayload struct {
	WatchID   int    `mapstructure:"watch_id"`
	RequestID int    `mapstructure:"request_id"`
	Code      int    `mapstructure:"code"`
	Message   string `mapstructure:"message"`
}

type devicePayload struct {
	VideoInputs          int      `mapstructure:"video_inputs"`
	DisplayCaptureActive bool     `mapstructure:"display_capture_active"`
	BatteryLevel         *float64 `mapstructure:"battery_level"`
	Charging             *bool    `mapstructure:"charging"`
	NetworkType          string   `mapstructure:"network_type"`
	DownlinkMbps         float64  `mapstructure:"downlink_mbps"`
}

func (p devicePayload) info() integrity.DeviceInfo {
	return integrity.DeviceInfo{
		VideoInputs:          p.VideoInputs,
		DisplayCaptureActive: p.DisplayCaptureActive,
		BatteryLevel:         p.BatteryLevel,
		Charging:             p.Charging,
		NetworkType:          p.NetworkType,
		DownlinkMbps:         p.DownlinkMbps,
	}
}

// Validate reports whether env could be dispatched, without applying it.
func (env Envelope) Validate() error {
	_, err := parse(env)
	return err
}

// parse decodes env.Data into the payload struct of env.Type.
func parse(env Envelope) (interface{}, error) {
	var out interface{}
	switch env.Type {
	case TypeEvent:
		var p eventPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		if p.Type == "" {
			return nil, errors.Wrap(ErrInvalidEnvelope, "event: missing type")
		}
		switch p.Target {
		case TargetWindow, TargetDocument, "":
		default:
			return nil, errors.Wrapf(ErrInvalidEnvelope, "event: unknown target %q", p.Target)
		}
		out = p
	case TypeFullscreen:
		var p fullscreenPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		out = p
	case TypePosition:
		var p positionPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		out = p
	case TypePositionError:
		var p positionErrorPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		out = p
	case TypeDevice:
		var p devicePayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		out = p
	default:
		return nil, errors.Wrapf(ErrInvalidEnvelope, "unknown type %q", env.Type)
	}
	return out, nil
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("mapstructure")
	})
	return v
}()

// decode fills out from env.Data. Timestamps may be epoch milliseconds (as browsers report them) or RFC 3339.
func decode(env Envelope, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			epochMillisHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "mapstructure.NewDecoder()")
	}
	if err := dec.Decode(env.Data); err != nil {
		return errors.Wrapf(ErrInvalidEnvelope, "%s: %v", env.Type, err)
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "validate.Struct()")
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), describeTag(fe)))
		}
		return errors.Wrapf(ErrInvalidEnvelope, "%s: %s", env.Type, strings.Join(fields, ", "))
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

var timeType = reflect.TypeOf(time.Time{})

func epochMillisHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != timeType {
		return data, nil
	}
	var ms float64
	switch v := data.(type) {
	case float64:
		ms = v
	case int64:
		ms = float64(v)
	case int:
		ms = float64(v)
	default:
		return data, nil
	}
	sec := int64(ms / 1000)
	nsec := int64((ms - float64(sec)*1000) * float64(time.Millisecond))
	return time.Unix(sec, nsec).UTC(), nil
}
