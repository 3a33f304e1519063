package machine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cartesi/machine/csr"
	"github.com/cartesi/machine/devices"
	"github.com/cartesi/machine/merkle"
	"github.com/cartesi/machine/pma"
	"github.com/cartesi/machine/riscv"
	"github.com/cartesi/machine/uarch"
)

// Physical address map. Only RAM's start is pinned by spec.md's
// worked examples (S4/S6 both address pa 0x8000_0000); the device
// range starts are this implementation's own choice, not load-bearing
// for any invariant (DESIGN.md records the decision).
const (
	ROMStart = 0x1000
	ROMSize  = 0xF000

	RAMStart = 0x8000_0000

	CLINTStart = 0x0200_0000
	CLINTSize  = 0x1_0000

	HTIFStart = 0x4000_8000
	HTIFSize  = 0x1000

	PLICStart = 0x4010_0000
	PLICSize  = 0x1000

	VirtIOStart = 0x4020_0000
	VirtIOSize  = 0x1000

	uarchBase = uint64(0x6000_0000_0000_0000)
)

// driverPMA wraps a pma.Driver in an IO-flagged range.
func driverPMA(start, length uint64, flags pma.Flags, d pma.Driver) *pma.PMA {
	flags.IO = true
	flags.DriverID = fmt.Sprintf("%T", d)
	return &pma.PMA{Start: start, Length: length, Flags: flags, Driver: d}
}

func memPMA(start, length uint64, flags pma.Flags, image []byte) *pma.PMA {
	flags.Memory = true
	return &pma.PMA{Start: start, Length: length, Flags: flags, Memory: pma.NewMemory(length, image)}
}

// Create builds a fresh machine from a configuration manifest, per
// spec.md §6's create(config, runtime_config).
func Create(cfg *Config, rt RuntimeConfig) (*CPU, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m := &CPU{
		csrs:          csr.NewBank(),
		config:        cfg,
		runtimeConfig: rt,
		priv:          riscv.PrivM,
	}

	romImage, err := loadImageFile(cfg.ROM.ImagePath)
	if err != nil {
		return nil, err
	}
	ranges := []*pma.PMA{
		memPMA(ROMStart, ROMSize, pma.Flags{Readable: true, Executable: true}, romImage),
	}

	ramImage, err := loadImageFile(cfg.RAM.ImagePath)
	if err != nil {
		return nil, err
	}
	ram := memPMA(RAMStart, cfg.RAM.Length, pma.Flags{Readable: true, Writable: true, Executable: true}, ramImage)
	ranges = append(ranges, ram)

	for _, fd := range cfg.FlashDrives {
		image, err := loadImageFile(fd.ImagePath)
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, memPMA(fd.Start, fd.Length, pma.Flags{Readable: true, Writable: true, IdempotentRead: true, IdempotentWrite: true}, image))
	}
	if cfg.Rollup != nil {
		for _, fd := range []FlashDriveConfig{cfg.Rollup.RxBuffer, cfg.Rollup.TxBuffer, cfg.Rollup.InputMetadata, cfg.Rollup.VoucherHashes, cfg.Rollup.NoticeHashes} {
			if fd.Length == 0 {
				continue
			}
			ranges = append(ranges, memPMA(fd.Start, fd.Length, pma.Flags{Readable: true, Writable: true}, nil))
		}
	}

	m.clint = devices.NewCLINT(m.MCycle, func(pending bool) { m.setMIP(riscv.IntMachineTimer, pending) })
	ranges = append(ranges, driverPMA(CLINTStart, CLINTSize, pma.Flags{Readable: true, Writable: true}, m.clint))

	m.plic = devices.NewPLIC(func(pending bool) { m.setMIP(riscv.IntMachineExternal, pending) })
	ranges = append(ranges, driverPMA(PLICStart, PLICSize, pma.Flags{Readable: true, Writable: true}, m.plic))

	m.htif = devices.NewHTIF(cfg.HTIF.ConsoleGetchar, defaultPutChar, func(payload uint64) {
		m.halted = true
	}, func() {
		if cfg.HTIF.YieldAutomatic {
			m.yieldedAuto = true
		} else {
			m.yieldedManual = true
		}
	})
	ranges = append(ranges, driverPMA(HTIFStart, HTIFSize, pma.Flags{Readable: true, Writable: true}, m.htif))

	m.virtio = devices.NewVirtIO(0, 0, func(uint32) { m.plic.RaiseSource(1) })
	ranges = append(ranges, driverPMA(VirtIOStart, VirtIOSize, pma.Flags{Readable: true, Writable: true}, m.virtio))

	table, err := pma.NewTable(ranges)
	if err != nil {
		return nil, configErrorf("%s", err)
	}
	for _, r := range table.Ranges() {
		if r.Flags.Memory {
			owner := r
			owner.Memory.SetDirtyHook(func(localPage uint64) {
				global := owner.Start>>pma.PageBits + localPage
				m.tree.MarkDirty(global)
				m.tlbs.NotifyWrite(global << pma.PageBits)
			})
		}
	}
	m.table = table
	m.tree = merkle.NewTree(table)

	m.x = cfg.Processor.X
	m.f = cfg.Processor.F
	m.pc = cfg.Processor.PC
	if cfg.Processor.PC == 0 {
		m.pc = ROMStart
	}
	m.csrs.Poke(riscv.CSRSatp, 0)
	m.csrs.Poke(riscv.CSRMcycle, 0)
	m.csrs.Poke(riscv.CSRMinstret, 0)
	m.csrs.Poke(riscv.CSRMtvec, 0)
	for name, value := range cfg.Processor.CSRs {
		num, ok := namedCSR[name]
		if !ok {
			return nil, configErrorf("processor.csrs: unknown CSR %q", name)
		}
		m.csrs.Poke(num, value)
	}

	if err := m.buildUarch(cfg.Uarch); err != nil {
		return nil, err
	}
	m.tree.Update()
	return m, nil
}

// buildUarch constructs the microarchitecture sub-interpreter's own
// PMA table (a single RAM range carrying the uarch ROM image) and
// Merkle tree, and seeds its register file from config (spec.md
// §4.G / §6 uarch.{ram_image, processor_state}).
func (m *CPU) buildUarch(cfg UarchConfig) error {
	image, err := loadImageFile(cfg.RAMImagePath)
	if err != nil {
		return err
	}
	const uarchRAMSize = 1 << 20 // 1 MiB, ample for a small RV64I ROM program
	ram := memPMA(uarchBase, uarchRAMSize, pma.Flags{Readable: true, Writable: true, Executable: true}, image)
	table, err := pma.NewTable([]*pma.PMA{ram})
	if err != nil {
		return configErrorf("uarch: %s", err)
	}
	m.uarchTable = table
	m.uarchTree = merkle.NewTree(table)
	m.uarchState = uarch.NewState(table, m.uarchTree, uarchBase)
	for i := 1; i < 32; i++ {
		m.uarchState.SetX(i, cfg.ProcessorState.X[i])
	}
	if cfg.ProcessorState.PC != 0 {
		m.uarchState.SetPC(cfg.ProcessorState.PC)
	} else {
		m.uarchState.SetPC(uarchBase + uarch.ROMBase)
	}
	return nil
}

func (m *CPU) setMIP(bit riscv.TrapCause, pending bool) {
	mip := m.csrs.Peek(riscv.CSRMip)
	if pending {
		mip |= 1 << bit.Code()
	} else {
		mip &^= 1 << bit.Code()
	}
	m.csrs.Poke(riscv.CSRMip, mip)
}

func defaultPutChar(b byte) {
	os.Stdout.Write([]byte{b})
}

func loadImageFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErrorf("load_image", "%s: %s", path, err)
	}
	return data, nil
}

// manifestName is the fixed filename a stored machine's config
// manifest uses, per spec.md §6's persisted layout.
const manifestName = "config.json"

// Store persists the machine's configuration and every memory PMA's
// raw bytes to directory, one `{start:016x}-{length:016x}.bin` file
// per range, byte-identical to the in-memory content (spec.md §6).
// Device (IO) ranges are not written.
func (m *CPU) Store(directory string) error {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return ioErrorf("store", "%s: %s", directory, err)
	}
	manifest, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return ioErrorf("store", "marshal config: %s", err)
	}
	if err := os.WriteFile(filepath.Join(directory, manifestName), manifest, 0o644); err != nil {
		return ioErrorf("store", "%s", err)
	}
	for _, r := range m.table.Ranges() {
		if !r.Flags.Memory {
			continue
		}
		data, ok := r.Memory.ReadBytes(0, r.Length)
		if !ok {
			return ioErrorf("store", "range %s: read failed", r)
		}
		name := fmt.Sprintf("%016x-%016x.bin", r.Start, r.Length)
		if err := os.WriteFile(filepath.Join(directory, name), data, 0o644); err != nil {
			return ioErrorf("store", "%s: %s", name, err)
		}
	}
	return nil
}

// Load rebuilds a machine from a directory Store wrote, per spec.md
// §6's load(directory, runtime_config): read the config manifest,
// Create the machine from it, then overlay each persisted range's raw
// bytes in place of its configured image.
func Load(directory string, rt RuntimeConfig) (*CPU, error) {
	manifest, err := os.ReadFile(filepath.Join(directory, manifestName))
	if err != nil {
		return nil, ioErrorf("load", "%s", err)
	}
	var cfg Config
	if err := json.Unmarshal(manifest, &cfg); err != nil {
		return nil, ioErrorf("load", "unmarshal config: %s", err)
	}
	m, err := Create(&cfg, rt)
	if err != nil {
		return nil, err
	}
	for _, r := range m.table.Ranges() {
		if !r.Flags.Memory {
			continue
		}
		name := fmt.Sprintf("%016x-%016x.bin", r.Start, r.Length)
		data, err := os.ReadFile(filepath.Join(directory, name))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, ioErrorf("load", "%s: %s", name, err)
		}
		r.Memory.WriteBytes(0, data)
		m.dirtyPages(r.Start, r.Length)
	}
	m.tree.Update()
	return m, nil
}

// Destroy releases the machine's resources. PMAs here are plain Go
// heap allocations rather than the teacher's mmap regions, so there
// is nothing to unmap explicitly; Destroy exists to mirror spec.md
// §6's lifecycle API and give callers a deterministic point to drop
// their last reference.
func (m *CPU) Destroy() {
	m.table = nil
	m.tree = nil
	m.uarchTable = nil
	m.uarchTree = nil
}
