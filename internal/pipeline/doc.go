// Package pipeline configures the media controller topology in front of a
// capture node before the camera is opened.
//
// A pipeline is applied with media-ctl in three steps:
//   - reset every link of the media device
//   - enable the configured links
//   - propagate the configured pad formats from source to sink
//
// Example configuration:
//
//	[pipelines.hdmi]
//	media_device = "/dev/media0"
//	links = ["'rcar_csi2 feaa0000.csi2':1 -> 'VIN0 output':0 [1]"]
//	formats = ["'adv748x 4-0070 hdmi':1 [fmt:RGB888_1X24/1024x768 field:none]"]
package pipeline
