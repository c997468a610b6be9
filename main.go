//go:build windows

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/r0lh/wininfo/wininfo"
)

type windowReport struct {
	HWND       string `json:"hwnd"`
	PID        uint32 `json:"pid"`
	Process    string `json:"process,omitempty"`
	ClassName  string `json:"class_name"`
	Style      string `json:"style,omitempty"`
	WndProc    string `json:"wndproc,omitempty"`
	Instance   string `json:"instance,omitempty"`
	ClsExtra   int32  `json:"cls_extra"`
	WndExtra   int32  `json:"wnd_extra"`
	Icon       string `json:"icon,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text"`
	Error      string `json:"error,omitempty"`
}

func main() {
	var hwndFlag = flag.String("w", "", "window handle to query (decimal or 0x hex)")
	var pidFlag = flag.Int("p", 0, "query every top-level window of this pid")
	var allFlag = flag.Bool("all", false, "with -p, include hidden windows")
	var cfgFlag = flag.String("c", "", "settings file (yaml)")
	var jsonFlag = flag.Bool("json", false, "print results as JSON")
	var verboseFlag = flag.Bool("v", false, "debug logging")

	flag.Parse()

	if *hwndFlag == "" && *pidFlag < 1 {
		fmt.Printf("[!] -w: %q -p: %v\n", *hwndFlag, *pidFlag)
		fmt.Println("[!] ERROR : use -w or -p.")
		os.Exit(2)
	}

	settings, err := loadSettings(*cfgFlag)
	if err != nil {
		logrus.Fatal(err)
	}
	if *jsonFlag {
		settings.Output.JSON = true
	}
	if *verboseFlag {
		settings.Log.Level = "debug"
	}
	if err := setupLogging(settings); err != nil {
		logrus.Fatal(err)
	}

	var hwnds []uintptr
	if *hwndFlag != "" {
		h, err := strconv.ParseUint(*hwndFlag, 0, 64)
		if err != nil {
			logrus.Fatalf("[!] ERROR : bad window handle %q: %v", *hwndFlag, err)
		}
		hwnds = append(hwnds, uintptr(h))
	} else {
		hwnds, err = processWindows(uint32(*pidFlag), *allFlag)
		if err != nil {
			logrus.Fatal(err)
		}
		logrus.Debugf("[-] %d windows in process %d", len(hwnds), *pidFlag)
	}

	fetcher := wininfo.New(settings.timeout(), wininfo.WithLogger(logrus.StandardLogger()))

	reports := make([]windowReport, 0, len(hwnds))
	failed := 0
	for _, h := range hwnds {
		r := query(fetcher, h)
		if r.Error != "" {
			failed++
		}
		reports = append(reports, r)
	}

	if settings.Output.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			logrus.Fatal(err)
		}
	} else {
		for _, r := range reports {
			printReport(r)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func query(f *wininfo.Fetcher, hwnd uintptr) windowReport {
	r := windowReport{HWND: fmt.Sprintf("0x%X", hwnd)}

	var pid uint32
	windows.GetWindowThreadProcessId(windows.HWND(hwnd), &pid)
	r.PID = pid
	r.Process = processName(pid)
	r.ClassName = className(hwnd)

	var (
		info *wininfo.Info
		err  error
	)
	if pid != 0 && pid == windows.GetCurrentProcessId() {
		info, err = wininfo.GetLocalWindowInfo(hwnd)
	} else {
		info, err = f.Fetch(hwnd)
	}
	if err != nil {
		logrus.WithError(err).WithField("hwnd", r.HWND).Warn("[!] query failed")
		r.Error = err.Error()
		return r
	}

	r.Style = fmt.Sprintf("0x%08X", info.Class.Style)
	r.WndProc = fmt.Sprintf("0x%X", info.WndProc)
	r.Instance = fmt.Sprintf("0x%X", info.Class.Instance)
	r.ClsExtra = info.Class.ClsExtra
	r.WndExtra = info.Class.WndExtra
	r.Icon = fmt.Sprintf("0x%X", info.Class.Icon)
	r.Cursor = fmt.Sprintf("0x%X", info.Class.Cursor)
	r.Background = fmt.Sprintf("0x%X", info.Class.Background)
	r.Text = info.Text
	return r
}

func printReport(r windowReport) {
	fmt.Printf("[+] Window %s (pid %d %s)\n", r.HWND, r.PID, r.Process)
	fmt.Printf("    Class:      %s\n", r.ClassName)
	if r.Error != "" {
		fmt.Printf("    Error:      %s\n", r.Error)
		return
	}
	fmt.Printf("    Text:       %q\n", r.Text)
	fmt.Printf("    WndProc:    %s\n", r.WndProc)
	fmt.Printf("    Style:      %s\n", r.Style)
	fmt.Printf("    Instance:   %s\n", r.Instance)
	fmt.Printf("    ClsExtra:   %d\n", r.ClsExtra)
	fmt.Printf("    WndExtra:   %d\n", r.WndExtra)
	fmt.Printf("    Icon:       %s\n", r.Icon)
	fmt.Printf("    Cursor:     %s\n", r.Cursor)
	fmt.Printf("    Background: %s\n", r.Background)
}

func processName(pid uint32) string {
	if pid == 0 {
		return ""
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

func className(hwnd uintptr) string {
	buf := make([]uint16, 256)
	n, err := windows.GetClassName(windows.HWND(hwnd), &buf[0], int32(len(buf)))
	if err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// processWindows lists the top-level windows owned by pid.
func processWindows(pid uint32, hidden bool) ([]uintptr, error) {
	var out []uintptr
	cb := syscall.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		var owner uint32
		windows.GetWindowThreadProcessId(hwnd, &owner)
		if owner != pid {
			return 1
		}
		if !hidden && !win.IsWindowVisible(win.HWND(hwnd)) {
			return 1
		}
		out = append(out, uintptr(hwnd))
		return 1
	})
	if err := windows.EnumWindows(cb, unsafe.Pointer(nil)); err != nil {
		return nil, errors.Wrap(err, "enumerate windows")
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no windows found for process %d", pid)
	}
	return out, nil
}
