package display

import (
	"fmt"
	"io"

	"github.com/backmassage/neuroprep/internal/term"
)

// PrintBanner prints the ASCII art banner; magenta when colors are enabled.
func PrintBanner(w io.Writer) {
	fmt.Fprintln(w, term.Magenta(`
 _ __   ___ _   _ _ __ ___  _ __  _ __ ___ _ __  
| '_ \ / _ \ | | | '__/ _ \| '_ \| '__/ _ \ '_ \ 
| | | |  __/ |_| | | | (_) | |_) | | |  __/ |_) |
|_| |_|\___|\__,_|_|  \___/| .__/|_|  \___| .__/ 
                           |_|            |_|    `))
}
