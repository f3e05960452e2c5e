package exfat

import (
	"testing"
)

func TestParseBootSector_valid(t *testing.T) {
	raw := buildBootSector(defaultBootSectorParams())

	bs, err := ParseBootSector(raw)
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}

	if bs.VolumeSerialNumber != 0x12345678 {
		t.Fatalf("Volume serial-number not correct: 0x%x", bs.VolumeSerialNumber)
	}

	if bs.RootDirFirstCluster != 4 {
		t.Fatalf("RootDirFirstCluster not correct: (%d)", bs.RootDirFirstCluster)
	}

	if bs.BytesPerSector() != 512 {
		t.Fatalf("BytesPerSector not correct: (%d)", bs.BytesPerSector())
	}

	if bs.SectorsPerCluster() != 8 {
		t.Fatalf("SectorsPerCluster not correct: (%d)", bs.SectorsPerCluster())
	}

	if bs.BytesPerCluster() != 4096 {
		t.Fatalf("BytesPerCluster not correct: (%d)", bs.BytesPerCluster())
	}
}

// TestParseBootSector_rejectsNonExfatName covers the literal S1 scenario: a
// boot sector whose OEM name isn't "EXFAT   " must be rejected outright,
// never treated as some degraded variant.
func TestParseBootSector_rejectsNonExfatName(t *testing.T) {
	p := defaultBootSectorParams()
	p.FileSystemName = "FAT32   "

	raw := buildBootSector(p)

	_, err := ParseBootSector(raw)
	if err == nil {
		t.Fatalf("expected an error for a non-exFAT OEM name")
	}

	if !IsParse(err) {
		t.Fatalf("expected a parse error, got: %s", err)
	}
}

func TestParseBootSector_rejectsBadSignature(t *testing.T) {
	raw := buildBootSector(defaultBootSectorParams())
	raw[510] = 0x00
	raw[511] = 0x00

	_, err := ParseBootSector(raw)
	if err == nil {
		t.Fatalf("expected an error for a bad boot signature")
	}
}

func TestParseBootSector_tooShort(t *testing.T) {
	_, err := ParseBootSector(make([]byte, 100))
	if err == nil {
		t.Fatalf("expected an error for a truncated boot sector")
	}
}

func TestParseBootSector_rejectsZeroClusterCount(t *testing.T) {
	p := defaultBootSectorParams()
	p.ClusterCount = 0

	raw := buildBootSector(p)

	_, err := ParseBootSector(raw)
	if err == nil {
		t.Fatalf("expected an error for a zero cluster-count")
	}
}

// TestBootSector_clusterToByteOffset covers invariant 1: cluster-to-byte
// offset is strictly derived from cluster_heap_offset, (cluster-2), and
// sectors_per_cluster.
func TestBootSector_clusterToByteOffset(t *testing.T) {
	p := defaultBootSectorParams()
	raw := buildBootSector(p)

	bs, err := ParseBootSector(raw)
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}

	got := bs.ClusterToByteOffset(4)
	want := uint64(16+2*8) * 512
	if got != want {
		t.Fatalf("ClusterToByteOffset(4) = (%d), want (%d)", got, want)
	}

	got = bs.ClusterToByteOffset(5)
	want = uint64(16+3*8) * 512
	if got != want {
		t.Fatalf("ClusterToByteOffset(5) = (%d), want (%d)", got, want)
	}
}

func TestBootSector_String(t *testing.T) {
	p := defaultBootSectorParams()
	raw := buildBootSector(p)

	bs, err := ParseBootSector(raw)
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}

	if bs.String() == "" {
		t.Fatalf("String() returned empty")
	}
}

func TestBootSector_Dump(t *testing.T) {
	p := defaultBootSectorParams()
	raw := buildBootSector(p)

	bs, err := ParseBootSector(raw)
	if err != nil {
		t.Fatalf("Parse failed: %s", err)
	}

	bs.Dump()
}
