// repair is the early-recovery stage of the repairer: neutralize the log,
// scan the allocation groups, check the root inode chunk and apply
// requested feature upgrades.
package repair

// Options is fixed for a run and handed to each component when it is made.
type Options struct {
	NoModify      bool   // report only, never write
	ZapLog        bool   // destroy the log even if it holds changes
	LogDevice     string // external log device path
	AddInobtCount bool
	AddBigtime    bool
	Verbose       int
	ScanThreads   int
}
