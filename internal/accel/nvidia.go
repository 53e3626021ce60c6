package accel

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"captiond/internal/runtime"
)

var errNvidiaSMI = errors.New("gpu support may not be enabled, check that you have installed GPU drivers: nvidia-smi command failed")

// smiQuery is the nvidia-smi field list parsed by parseSMI.
const smiQuery = "index,name,memory.total,memory.free,memory.used,compute_cap"

// smiCommand is swapped in tests.
var smiCommand = func(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu="+smiQuery, "--format=csv,noheader,nounits")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, errNvidiaSMI
	}
	return stdout.Bytes(), nil
}

// ProbeNVIDIA lists NVIDIA devices using nvidia-smi.
func ProbeNVIDIA(ctx context.Context) ([]runtime.DeviceInfo, error) {
	out, err := smiCommand(ctx)
	if err != nil {
		return nil, err
	}
	return parseSMI(out)
}

func parseSMI(out []byte) ([]runtime.DeviceInfo, error) {
	var devs []runtime.DeviceInfo
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, "[Insufficient Permissions]") {
			return nil, fmt.Errorf("gpu support may not be enabled, check you have the necessary permissions to run nvidia-smi")
		}
		f := strings.Split(line, ",")
		if len(f) < 6 {
			return nil, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		for i := range f {
			f[i] = strings.TrimSpace(f[i])
		}
		idx, err := strconv.Atoi(f[0])
		if err != nil {
			return nil, fmt.Errorf("parse gpu index: %w", err)
		}
		var mib [3]uint64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseUint(f[2+i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse gpu memory %q: %w", f[2+i], err)
			}
			mib[i] = v << 20
		}
		devs = append(devs, runtime.DeviceInfo{
			Index:             idx,
			Name:              f[1],
			TotalBytes:        mib[0],
			FreeBytes:         mib[1],
			UsedBytes:         mib[2],
			ComputeCapability: f[5],
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return devs, nil
}

// supportsBF16 reports native bfloat16 arithmetic (compute capability 8.0+).
func supportsBF16(computeCap string) bool {
	major, _, _ := strings.Cut(computeCap, ".")
	n, err := strconv.Atoi(major)
	return err == nil && n >= 8
}

// defaultContextBytes approximates the CUDA context reservation.
const defaultContextBytes = 300 << 20

// NewNVIDIA probes the first NVIDIA device and returns a Pool sized to its
// free memory. limitBytes, when positive, caps the pool.
func NewNVIDIA(ctx context.Context, limitBytes int64) (*Pool, error) {
	devs, err := ProbeNVIDIA(ctx)
	if err != nil {
		return nil, err
	}
	if len(devs) == 0 {
		return nil, runtime.ErrNoAccelerator
	}
	d := devs[0]
	total := int64(d.FreeBytes)
	if limitBytes > 0 && limitBytes < total {
		total = limitBytes
	}
	return NewPool(PoolConfig{
		Name:              d.Name,
		TotalBytes:        total,
		ContextBytes:      defaultContextBytes,
		BF16:              supportsBF16(d.ComputeCapability),
		ComputeCapability: d.ComputeCapability,
		Probe:             ProbeNVIDIA,
	}), nil
}
