package config

const (
	// DefaultConfigFile is the tortillas config file name inside the SWEB source tree.
	DefaultConfigFile = "tortillas_config.yml"
	// SwebPathPlaceholder is expanded to the SWEB source path inside a config path.
	SwebPathPlaceholder = "{sweb_path}"
	// DefaultBuildDir is where SWEB is built and where run directories are created.
	DefaultBuildDir = "/tmp/sweb"
	// RunDirName is the directory under the build dir holding per-run state.
	RunDirName = "tortillas"
	// BaseImageName is the disk image produced by the SWEB build.
	BaseImageName = "SWEB.qcow2"
	// TestsDir is the directory (relative to the SWEB source tree) holding test programs.
	TestsDir = "userspace/tests"
	// TestFileSuffix is the file extension of test programs.
	TestFileSuffix = ".c"
	// InvocationSuffix is appended to a test name to form the guest shell command.
	InvocationSuffix = ".sweb"
	// SnapshotTag is the vmstate tag used for savevm/loadvm.
	SnapshotTag = "tortillas"
	// SummaryFile is the markdown summary written after a run.
	SummaryFile = "tortillas_summary.md"
	// CatalogFile is the default output of the catalog command.
	CatalogFile = "salsa_summary.md"
	// ScopeAll matches every debug-log scope.
	ScopeAll = "ALL"
	// DefaultInterruptVector is the syscall software interrupt (int 0x80).
	DefaultInterruptVector = 0x80
	// DefaultMaxRetries bounds re-attempts of a test whose run requested a retry.
	DefaultMaxRetries = 3
	// ArchX8664 is the 64-bit x86 target.
	ArchX8664 = "x86_64"
	// ArchX8632 is the 32-bit x86 target.
	ArchX8632 = "x86_32"
)
