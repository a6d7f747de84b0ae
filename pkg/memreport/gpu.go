package memreport

import (
	"bytes"
	"context"
	"encoding/xml"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ReportGPU describes the GPU visible to the measured engine, when one exists.
// VRAM used is a snapshot taken at report time, not part of the sampled trace;
// process RSS does not account for device memory, so the snapshot is the only
// VRAM signal in the report.
type ReportGPU struct {
	Name        string  `json:"name"`
	VRAMTotalMB float64 `json:"vram_total_mb"`
	VRAMUsedMB  float64 `json:"vram_used_mb"`
	DriverMHz   int     `json:"sm_clock_mhz,omitempty"`
	PowerWatt   float64 `json:"power_watt,omitempty"`
}

// Minimal XML mapping for nvidia-smi -x -q.
type smiLog struct {
	XMLName xml.Name `xml:"nvidia_smi_log"`
	GPU     smiGPU   `xml:"gpu"`
}

type smiGPU struct {
	ProductName string      `xml:"product_name"`
	FBMem       smiFBMemory `xml:"fb_memory_usage"`
	Power       smiPower    `xml:"power_readings"`
	Clocks      smiClocks   `xml:"clocks"`
}

type smiFBMemory struct {
	Total string `xml:"total"`
	Used  string `xml:"used"`
}

type smiPower struct {
	Draw string `xml:"power_draw"`
}

type smiClocks struct {
	SMClock string `xml:"sm_clock"`
}

// DetectGPU snapshots GPU facts via nvidia-smi. It returns nil on hosts
// without the tool or without a device; the report stays useful without it.
func DetectGPU(ctx context.Context) *ReportGPU {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi", "-x", "-q", "-i", "0").Output()
	if err != nil {
		return nil
	}
	gpu, err := parseSMIXML(out)
	if err != nil {
		return nil
	}
	return gpu
}

func parseSMIXML(raw []byte) (*ReportGPU, error) {
	var log smiLog
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&log); err != nil {
		return nil, err
	}
	return &ReportGPU{
		Name:        strings.TrimSpace(log.GPU.ProductName),
		VRAMTotalMB: parseUnitFloat(log.GPU.FBMem.Total, "MiB"),
		VRAMUsedMB:  parseUnitFloat(log.GPU.FBMem.Used, "MiB"),
		DriverMHz:   int(parseUnitFloat(log.GPU.Clocks.SMClock, "MHz")),
		PowerWatt:   parseUnitFloat(log.GPU.Power.Draw, "W"),
	}, nil
}

// parseUnitFloat reads values like "24576 MiB" or "350.50 W"; nvidia-smi is
// inconsistent about the space before the unit.
func parseUnitFloat(s, unit string) float64 {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), unit))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			return v
		}
	}
	return 0
}
