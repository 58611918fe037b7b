package models

// ConfigData is a device's negotiated format.
type ConfigData struct {
	PixelFormat  string `json:"pixel_format" example:"YUYV" doc:"FourCC pixel format"`
	Width        uint32 `json:"width" example:"640" doc:"Frame width in pixels"`
	Height       uint32 `json:"height" example:"480" doc:"Frame height in pixels"`
	FrameRate    string `json:"frame_rate" example:"30/1" doc:"Frame rate as a fraction"`
	Colorspace   uint32 `json:"colorspace" example:"1" doc:"Wire colorspace"`
	XferFunc     uint32 `json:"xfer_func" example:"0" doc:"Wire transfer function"`
	YCbCrEnc     uint32 `json:"ycbcr_enc" example:"0" doc:"Wire Y'CbCr encoding"`
	Quantization uint32 `json:"quantization" example:"0" doc:"Wire quantization"`
}

// ControlData describes one device control and its current value.
type ControlData struct {
	Name    string   `json:"name" example:"brightness" doc:"Control name"`
	Min     int32    `json:"min" example:"0" doc:"Minimum value"`
	Max     int32    `json:"max" example:"255" doc:"Maximum value"`
	Step    int32    `json:"step" example:"1" doc:"Value step"`
	Default int32    `json:"default" example:"128" doc:"Default value"`
	Value   *int64   `json:"value,omitempty" example:"128" doc:"Current value"`
	Flags   []string `json:"flags,omitempty" example:"[\"read-only\"]" doc:"Control flags"`
}

// DeviceData is one physical camera, present on the system, in use, or both.
type DeviceData struct {
	UniqueID   string   `json:"unique_id" example:"video0" doc:"Device identifier used in frontends.toml"`
	DevicePath string   `json:"device_path,omitempty" example:"/dev/video0" doc:"Device node path"`
	DeviceName string   `json:"device_name,omitempty" example:"USB Camera" doc:"Device card name"`
	Driver     string   `json:"driver,omitempty" example:"uvcvideo" doc:"Kernel driver"`
	BusInfo    string   `json:"bus_info,omitempty" example:"usb-0000:00:14.0-1" doc:"Bus location"`
	Present    bool     `json:"present" example:"true" doc:"Whether the node exists"`
	Active     bool     `json:"active" example:"true" doc:"Whether a broker serves the device"`
	Sessions   int      `json:"sessions" example:"2" doc:"Sessions holding the device"`
	Degraded   bool     `json:"degraded" example:"false" doc:"Broker runs without a device"`
	Streaming  []uint32 `json:"streaming,omitempty" doc:"Domains currently streaming"`
}

type DeviceListData struct {
	Devices []DeviceData `json:"devices" doc:"Capture devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

// DeviceDetailData adds broker state to DeviceData.
type DeviceDetailData struct {
	DeviceData
	FormatFixed     bool              `json:"format_fixed" example:"true" doc:"Format fixed by the first config-set"`
	RateFixed       bool              `json:"rate_fixed" example:"true" doc:"Frame rate fixed"`
	HardwareBuffers uint32            `json:"hardware_buffers" example:"4" doc:"Allocated capture buffers"`
	Grants          map[string]uint32 `json:"grants,omitempty" doc:"Buffers granted per domain"`
	DMABufExport    bool              `json:"dmabuf_export" example:"true" doc:"Capture buffers can be exported as dma-buf"`
	Config          *ConfigData       `json:"config,omitempty" doc:"Current format"`
	Controls        []ControlData     `json:"controls,omitempty" doc:"Device controls"`
}

type DeviceDetailInput struct {
	UniqueID string `path:"unique_id" example:"video0" doc:"Device identifier"`
}

type DeviceDetailResponse struct {
	Body DeviceDetailData
}
