package cmd

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/idevice-protocol/idevice-go/pkg/afc"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive file shell on the device",
	Long:  `Open an interactive shell over the device's media filesystem.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAFC(func(files *afc.Client) error {
			sh, err := newShell(files)
			if err != nil {
				return err
			}
			return sh.run()
		})
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shell is the interactive file shell state.
type shell struct {
	files *afc.Client
	rl    *readline.Instance
	cwd   string
}

func newShell(files *afc.Client) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{files: files, rl: rl, cwd: "/"}, nil
}

// run is the interactive command loop.
func (s *shell) run() error {
	defer s.rl.Close()

	s.printHelp()

	for {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "ls", "l":
			s.cmdLs(args)

		case "cd":
			s.cmdCd(args)

		case "pwd":
			fmt.Fprintln(s.rl.Stdout(), s.cwd)

		case "cat":
			s.cmdCat(args)

		case "get", "pull":
			s.cmdGet(args)

		case "put", "push":
			s.cmdPut(args)

		case "rm":
			s.cmdRm(args)

		case "mkdir":
			s.cmdMkdir(args)

		case "info", "stat":
			s.cmdInfo(args)

		case "exit", "quit", "q":
			return nil

		default:
			fmt.Fprintf(s.rl.Stderr(), "Unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `Commands:
  ls [path]             List directory
  cd <path>             Change directory
  pwd                   Print working directory
  cat <file>            Print file contents
  get <remote> [local]  Download a file
  put <local> [remote]  Upload a file
  rm <path>             Remove a file or empty directory
  mkdir <path>          Create a directory
  info <path>           Show file metadata
  exit                  Leave the shell
`)
}

// resolve turns a possibly relative argument into an absolute device
// path.
func (s *shell) resolve(arg string) string {
	if path.IsAbs(arg) {
		return path.Clean(arg)
	}
	return path.Join(s.cwd, arg)
}

func (s *shell) cmdLs(args []string) {
	target := s.cwd
	if len(args) > 0 {
		target = s.resolve(args[0])
	}
	names, err := s.files.ReadDir(target)
	if err != nil {
		fmt.Fprintf(s.rl.Stderr(), "ls: %v\n", err)
		return
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		fmt.Fprintln(s.rl.Stdout(), name)
	}
}

func (s *shell) cmdCd(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stderr(), "usage: cd <path>")
		return
	}
	target := s.resolve(args[0])
	info, err := s.files.FileInfo(target)
	if err != nil {
		fmt.Fprintf(s.rl.Stderr(), "cd: %v\n", err)
		return
	}
	if info["st_ifmt"] != "S_IFDIR" {
		fmt.Fprintf(s.rl.Stderr(), "cd: %s: not a directory\n", target)
		return
	}
	s.cwd = target
}

func (s *shell) cmdCat(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stderr(), "usage: cat <file>")
		return
	}
	f, err := s.files.Open(s.resolve(args[0]), afc.ModeReadOnly)
	if err != nil {
		fmt.Fprintf(s.rl.Stderr(), "cat: %v\n", err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(s.rl.Stdout(), f); err != nil {
		fmt.Fprintf(s.rl.Stderr(), "cat: %v\n", err)
	}
}

func (s *shell) cmdGet(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.rl.Stderr(), "usage: get <remote> [local]")
		return
	}
	remote := s.resolve(args[0])
	local := path.Base(remote)
	if len(args) == 2 {
		local = args[1]
	}
	if err := s.files.PullFile(remote, local); err != nil {
		fmt.Fprintf(s.rl.Stderr(), "get: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "%s -> %s\n", remote, local)
}

func (s *shell) cmdPut(args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(s.rl.Stderr(), "usage: put <local> [remote]")
		return
	}
	local := args[0]
	remote := s.resolve(path.Base(local))
	if len(args) == 2 {
		remote = s.resolve(args[1])
	}
	if err := s.files.PushFile(local, remote); err != nil {
		fmt.Fprintf(s.rl.Stderr(), "put: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "%s -> %s\n", local, remote)
}

func (s *shell) cmdRm(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stderr(), "usage: rm <path>")
		return
	}
	if err := s.files.Remove(s.resolve(args[0])); err != nil {
		fmt.Fprintf(s.rl.Stderr(), "rm: %v\n", err)
	}
}

func (s *shell) cmdMkdir(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stderr(), "usage: mkdir <path>")
		return
	}
	if err := s.files.MakeDir(s.resolve(args[0])); err != nil {
		fmt.Fprintf(s.rl.Stderr(), "mkdir: %v\n", err)
	}
}

func (s *shell) cmdInfo(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stderr(), "usage: info <path>")
		return
	}
	info, err := s.files.FileInfo(s.resolve(args[0]))
	if err != nil {
		fmt.Fprintf(s.rl.Stderr(), "info: %v\n", err)
		return
	}
	for _, key := range []string{"st_ifmt", "st_size", "st_nlink", "st_mtime", "st_birthtime", "LinkTarget"} {
		if value, ok := info[key]; ok {
			fmt.Fprintf(s.rl.Stdout(), "%-13s %s\n", key, value)
		}
	}
}
