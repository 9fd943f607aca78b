// Command fake_terminal emulates a push-protocol attendance terminal
// against a running server: it polls for commands, prints them, and
// acknowledges each with a configurable return code.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		baseURL    = flag.String("server", "http://127.0.0.1:8080", "server base url")
		sn         = flag.String("sn", "FAKE0001", "device serial number")
		info       = flag.String("info", "Ver 6.60,0,0,0,127.0.0.1", "INFO blob sent on the first poll")
		interval   = flag.Duration("interval", 5*time.Second, "poll interval")
		returnCode = flag.Int("return", 0, "return code for acknowledgments")
		once       = flag.Bool("once", false, "poll once and exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "fake_terminal: ", log.LstdFlags)
	client := &http.Client{Timeout: 10 * time.Second}

	first := true
	for {
		if err := cycle(client, logger, *baseURL, *sn, *info, *returnCode, first); err != nil {
			logger.Printf("cycle error: %v", err)
		}
		first = false
		if *once {
			return
		}
		time.Sleep(*interval)
	}
}

func cycle(client *http.Client, logger *log.Logger, baseURL, sn, info string, returnCode int, sendInfo bool) error {
	pollURL := baseURL + "/iclock/getrequest?SN=" + url.QueryEscape(sn)
	if sendInfo {
		pollURL += "&INFO=" + url.QueryEscape(info)
	}
	resp, err := client.Get(pollURL)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		logger.Printf("poll: no pending commands")
		return nil
	}

	var replies []string
	for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
		logger.Printf("command: %s", line)
		id, cmdType, ok := parseCommandLine(line)
		if !ok {
			logger.Printf("skipping unparseable line: %q", line)
			continue
		}
		replies = append(replies, fmt.Sprintf("ID=%d&Return=%d&CMD=%s", id, returnCode, cmdType))
	}
	if len(replies) == 0 {
		return nil
	}

	replyBody := strings.Join(replies, "\n") + "\n"
	replyResp, err := client.Post(baseURL+"/iclock/devicecmd?SN="+url.QueryEscape(sn),
		"text/plain", strings.NewReader(replyBody))
	if err != nil {
		return err
	}
	defer replyResp.Body.Close()
	ack, _ := io.ReadAll(replyResp.Body)
	logger.Printf("acked %d command(s): server said %q", len(replies), string(ack))
	return nil
}

func parseCommandLine(line string) (uint64, string, bool) {
	idPart, rest, ok := strings.Cut(line, "\t")
	if !ok || !strings.HasPrefix(idPart, "ID=") || !strings.HasPrefix(rest, "CMD=") {
		return 0, "", false
	}
	var id uint64
	if _, err := fmt.Sscanf(idPart, "ID=%d", &id); err != nil {
		return 0, "", false
	}
	cmdType, _, _ := strings.Cut(strings.TrimPrefix(rest, "CMD="), " ")
	return id, cmdType, true
}
