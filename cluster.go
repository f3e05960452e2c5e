// This file reads whole clusters off a byte source, generalizing the
// teacher's per-sector cluster enumeration to the single-shot,
// cluster-at-a-time reads the directory and file codecs need.

package exfat

import "github.com/dsoprea/go-logging"

// readCluster reads exactly one cluster's worth of bytes, as addressed by
// bs.ClusterToByteOffset.
func readCluster(src ByteSource, bs *BootSector, cluster uint32) (buf []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	buf = make([]byte, bs.BytesPerCluster())

	offset := int64(bs.ClusterToByteOffset(cluster))
	n, readErr := src.ReadAt(buf, offset)
	if readErr != nil {
		panic(ioError(readErr, "short read of cluster (%d)", cluster))
	}
	if n != len(buf) {
		panic(ioError(nil, "short read of cluster (%d): got (%d) of (%d) bytes", cluster, n, len(buf)))
	}

	return buf, nil
}

// readClusterChain reads and concatenates every cluster named by clusters,
// in order.
func readClusterChain(src ByteSource, bs *BootSector, clusters []uint32) (out []byte, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			if fe, ok := errRaw.(*FsError); ok {
				err = fe
				return
			}
			err = log.Wrap(errRaw.(error))
		}
	}()

	out = make([]byte, 0, len(clusters)*int(bs.BytesPerCluster()))

	for _, cluster := range clusters {
		data, clusterErr := readCluster(src, bs, cluster)
		log.PanicIf(clusterErr)
		out = append(out, data...)
	}

	return out, nil
}
