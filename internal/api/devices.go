package api

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camback/internal/api/models"
	"github.com/smazurov/camback/internal/broker"
	"github.com/smazurov/camback/internal/camera"
	"github.com/smazurov/camback/internal/cameraif"
	"github.com/smazurov/camback/internal/registry"
	"github.com/smazurov/camback/pkg/linuxav/v4l2"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List capture devices present on the host and devices with a live broker",
		Tags:        []string{"devices"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.DeviceListResponse, error) {
		devices, err := s.listDevices()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to enumerate devices", err)
		}
		return &models.DeviceListResponse{
			Body: models.DeviceListData{Devices: devices, Count: len(devices)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/api/devices/{unique_id}",
		Summary:     "Get Device",
		Description: "Broker state, negotiated format and controls of a device in use",
		Tags:        []string{"devices"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.DeviceDetailInput) (*models.DeviceDetailResponse, error) {
		entry, ok := s.findEntry(input.UniqueID)
		if !ok {
			return nil, huma.Error404NotFound(fmt.Sprintf("No broker for device %q", input.UniqueID))
		}
		base := models.DeviceData{UniqueID: entry.UniqueID}
		if found, err := s.options.ListDevices(); err == nil {
			if i := slices.IndexFunc(found, func(d v4l2.DeviceInfo) bool { return d.Node() == entry.UniqueID }); i >= 0 {
				base = presentDevice(found[i])
			}
		}
		return &models.DeviceDetailResponse{Body: deviceDetail(base, entry)}, nil
	})
}

// listDevices merges enumerated nodes with live brokers by unique id. Pattern
// sources and unplugged devices still held by sessions appear as not present.
func (s *Server) listDevices() ([]models.DeviceData, error) {
	found, err := s.options.ListDevices()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.DeviceData, len(found))
	out := make([]models.DeviceData, 0, len(found))
	for _, d := range found {
		out = append(out, presentDevice(d))
	}
	for i := range out {
		byID[out[i].UniqueID] = &out[i]
	}

	var extra []models.DeviceData
	for _, e := range s.entries() {
		if d, ok := byID[e.UniqueID]; ok {
			applyEntry(d, e)
			continue
		}
		d := models.DeviceData{UniqueID: e.UniqueID}
		applyEntry(&d, e)
		extra = append(extra, d)
	}
	out = append(out, extra...)
	slices.SortFunc(out, func(a, b models.DeviceData) int { return strings.Compare(a.UniqueID, b.UniqueID) })
	return out, nil
}

func (s *Server) entries() []registry.Entry {
	if s.options.Devices == nil {
		return nil
	}
	return s.options.Devices.Entries()
}

func (s *Server) findEntry(uniqueID string) (registry.Entry, bool) {
	for _, e := range s.entries() {
		if e.UniqueID == uniqueID {
			return e, true
		}
	}
	return registry.Entry{}, false
}

func presentDevice(d v4l2.DeviceInfo) models.DeviceData {
	return models.DeviceData{
		UniqueID:   d.Node(),
		DevicePath: d.DevicePath,
		DeviceName: d.DeviceName,
		Driver:     d.Driver,
		BusInfo:    d.BusInfo,
		Present:    true,
	}
}

func applyEntry(d *models.DeviceData, e registry.Entry) {
	st := e.Broker.Status()
	d.Active = true
	d.Sessions = e.Refs
	d.Degraded = st.Degraded
	d.Streaming = st.Streaming
}

func deviceDetail(base models.DeviceData, e registry.Entry) models.DeviceDetailData {
	applyEntry(&base, e)
	st := e.Broker.Status()

	detail := models.DeviceDetailData{
		DeviceData:      base,
		FormatFixed:     st.FormatFixed,
		RateFixed:       st.RateFixed,
		HardwareBuffers: st.HardwareBuffers,
		DMABufExport:    st.DMABufExport,
	}
	if len(st.Grants) > 0 {
		detail.Grants = make(map[string]uint32, len(st.Grants))
		for dom, n := range st.Grants {
			detail.Grants[strconv.FormatUint(uint64(dom), 10)] = n
		}
	}
	if !st.Degraded {
		cfg := configData(st.Config)
		detail.Config = &cfg
		detail.Controls = controlData(e.Broker)
	}
	return detail
}

func configData(c cameraif.Config) models.ConfigData {
	return models.ConfigData{
		PixelFormat:  v4l2.FormatFourCC(c.PixelFormat),
		Width:        c.Width,
		Height:       c.Height,
		FrameRate:    fmt.Sprintf("%d/%d", c.FrameRateNumer, c.FrameRateDenom),
		Colorspace:   c.Colorspace,
		XferFunc:     c.XferFunc,
		YCbCrEnc:     c.YCbCrEnc,
		Quantization: c.Quantization,
	}
}

func controlData(b *broker.Broker) []models.ControlData {
	ctrls, err := b.Controls()
	if err != nil {
		return nil
	}
	out := make([]models.ControlData, 0, len(ctrls))
	for _, c := range ctrls {
		cd := models.ControlData{
			Name:    c.Name,
			Min:     c.Min,
			Max:     c.Max,
			Step:    c.Step,
			Default: c.Default,
			Flags:   controlFlags(c),
		}
		if c.Flags&v4l2.CtrlFlagWriteOnly == 0 {
			if v, err := b.GetControl(c.Name); err == nil {
				cd.Value = &v
			}
		}
		out = append(out, cd)
	}
	return out
}

func controlFlags(c camera.Control) []string {
	var flags []string
	for _, f := range []struct {
		bit  uint32
		name string
	}{
		{v4l2.CtrlFlagDisabled, "disabled"},
		{v4l2.CtrlFlagGrabbed, "grabbed"},
		{v4l2.CtrlFlagReadOnly, "read-only"},
		{v4l2.CtrlFlagInactive, "inactive"},
		{v4l2.CtrlFlagWriteOnly, "write-only"},
		{v4l2.CtrlFlagVolatile, "volatile"},
	} {
		if c.Flags&f.bit != 0 {
			flags = append(flags, f.name)
		}
	}
	return flags
}
