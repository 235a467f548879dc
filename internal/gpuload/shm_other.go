//go:build !windows

package gpuload

import "errors"

func openSharedMemory() (shmMapping, error) {
	return nil, errors.New("gpu shared memory is only available on windows")
}
