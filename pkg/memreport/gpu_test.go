package memreport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smiXML = `<?xml version="1.0" ?>
<nvidia_smi_log>
  <gpu id="00000000:01:00.0">
    <product_name>NVIDIA GeForce RTX 4090</product_name>
    <fb_memory_usage>
      <total>24564 MiB</total>
      <used>8123 MiB</used>
      <free>16441 MiB</free>
    </fb_memory_usage>
    <power_readings>
      <power_draw>350.50 W</power_draw>
    </power_readings>
    <clocks>
      <sm_clock>2520 MHz</sm_clock>
    </clocks>
  </gpu>
</nvidia_smi_log>`

func TestParseSMIXML(t *testing.T) {
	gpu, err := parseSMIXML([]byte(smiXML))
	require.NoError(t, err)

	assert.Equal(t, "NVIDIA GeForce RTX 4090", gpu.Name)
	assert.InDelta(t, 24564.0, gpu.VRAMTotalMB, 0.001)
	assert.InDelta(t, 8123.0, gpu.VRAMUsedMB, 0.001)
	assert.InDelta(t, 350.5, gpu.PowerWatt, 0.001)
	assert.Equal(t, 2520, gpu.DriverMHz)
}

func TestParseSMIXML_Garbage(t *testing.T) {
	_, err := parseSMIXML([]byte("not xml"))
	assert.Error(t, err)
}

func TestParseUnitFloat(t *testing.T) {
	assert.InDelta(t, 24564.0, parseUnitFloat("24564 MiB", "MiB"), 0.001)
	assert.InDelta(t, 24564.0, parseUnitFloat("24564MiB", "MiB"), 0.001)
	assert.InDelta(t, 0.0, parseUnitFloat("N/A", "W"), 0.001)
}
