package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"comic-translator/internal/errors"
	"comic-translator/internal/logger"
	"comic-translator/internal/results"
	"comic-translator/internal/types"
)

// Command line flags
var (
	pageFlag     = flag.String("page", "", "Page image to process (png, jpeg or webp)")
	batchFlag    = flag.Bool("batch", false, "Process every image or directory given as arguments")
	updateFlag   = flag.String("update", "", "Page ID whose bubble text should be replaced")
	rerenderFlag = flag.String("rerender", "", "Page ID to render again from its stored clean image")
	retryFlag    = flag.Bool("retry", false, "Reprocess every retryable failed page")
	listFlag     = flag.Bool("list", false, "List processed pages")
	errorsFlag   = flag.Bool("errors", false, "List failed pages")
	testAPIFlag  = flag.Bool("test-api", false, "Translate a sample sentence to check the LLM settings")

	modeFlag     = flag.String("mode", string(types.ModeFull), "Processing mode: full or clean_only")
	forceFlag    = flag.Bool("force", false, "Process the page again even if a result exists")
	regionFlag   = flag.Int("region", -1, "Region index for --update")
	textFlag     = flag.String("text", "", "New bubble text for --update")
	fontFlag     = flag.String("font", "", "Font for --update: dialogue, sfx, narrator or a font file name")
	outputFlag   = flag.String("output", "", "Output PNG for --rerender, or failed input list for --errors")
	configFlag   = flag.String("config", "", "Config file path")
	logLevelFlag = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFileFlag  = flag.String("log-file", "comic-translator.log", "Log file path")
)

// printHelp displays the help information for command line usage.
func printHelp() {
	fmt.Println("Comic Translator - 检测漫画对话气泡，翻译并按原风格重新排版")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  comic-translator [选项] [图片或目录...]")
	fmt.Println()
	fmt.Println("命令 (只能指定一个):")
	fmt.Println("  --page <PATH>        处理单个页面")
	fmt.Println("  --batch              批量处理参数中的图片和目录")
	fmt.Println("  --update <PAGE_ID>   修改某个气泡的文本并重新渲染 (需 --region 与 --text)")
	fmt.Println("  --rerender <PAGE_ID> 从保存的干净图像重新渲染页面")
	fmt.Println("  --retry              重试所有可重试的失败页面")
	fmt.Println("  --list               列出已处理页面")
	fmt.Println("  --errors             列出失败页面 (配合 --output 导出输入列表)")
	fmt.Println("  --test-api           测试 LLM 配置")
	fmt.Println()
	fmt.Println("选项:")
	fmt.Println("  --mode <MODE>        full (默认) 或 clean_only")
	fmt.Println("  --force              忽略已有结果重新处理")
	fmt.Println("  --region <N>         气泡序号")
	fmt.Println("  --text <TEXT>        新文本")
	fmt.Println("  --font <NAME>        字体类别或字体文件名")
	fmt.Println("  --output <PATH>      输出路径")
	fmt.Println("  --config <PATH>      配置文件路径")
	fmt.Println("  --log-level <LEVEL>  日志级别")
	fmt.Println("  -h, --help           显示帮助信息")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  comic-translator --page chapter1/001.png")
	fmt.Println("  comic-translator --batch --mode clean_only chapter1/ chapter2/")
	fmt.Println("  comic-translator --update 001_3f2a9c1b7d4e --region 2 --text \"Wait for me!\" --font sfx")
	fmt.Println("  comic-translator --rerender 001_3f2a9c1b7d4e --output out.png")
}

// getCommand returns the single command selected by the flags.
func getCommand() (string, error) {
	var commands []string
	if *pageFlag != "" {
		commands = append(commands, "page")
	}
	if *batchFlag {
		commands = append(commands, "batch")
	}
	if *updateFlag != "" {
		commands = append(commands, "update")
	}
	if *rerenderFlag != "" {
		commands = append(commands, "rerender")
	}
	if *retryFlag {
		commands = append(commands, "retry")
	}
	if *listFlag {
		commands = append(commands, "list")
	}
	if *errorsFlag {
		commands = append(commands, "errors")
	}
	if *testAPIFlag {
		commands = append(commands, "test-api")
	}

	switch len(commands) {
	case 0:
		return "", fmt.Errorf("请指定一个命令")
	case 1:
		return commands[0], nil
	default:
		return "", fmt.Errorf("只能指定一个命令，收到 %v", commands)
	}
}

func parseMode(s string) (types.ProcessMode, error) {
	switch m := types.ProcessMode(s); m {
	case types.ModeFull, types.ModeCleanOnly:
		return m, nil
	}
	return "", fmt.Errorf("未知模式: %s", s)
}

func main() {
	flag.Usage = printHelp
	flag.Parse()

	command, err := getCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n\n", err)
		printHelp()
		os.Exit(1)
	}
	mode, err := parseMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(*logLevelFlag)
	if err != nil {
		level = logger.LevelInfo
	}
	if err := logger.Init(&logger.Config{
		LogFilePath:   *logFileFlag,
		Level:         level,
		EnableConsole: true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "警告: 日志初始化失败: %v\n", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app, err := NewAppWithConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
	if err := app.startup(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "错误: 初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer app.shutdown(context.Background())

	if err := run(ctx, app, command, mode); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		app.shutdown(context.Background())
		logger.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, app *App, command string, mode types.ProcessMode) error {
	switch command {
	case "page":
		app.SetStatusCallback(func(s *types.Status) {
			fmt.Printf("  [%3d%%] %s - %s\n", s.Progress, s.Phase, s.Message)
		})
		info, err := app.ProcessPage(*pageFlag, mode, *forceFlag)
		if err != nil {
			return err
		}
		fmt.Printf("页面 ID: %s\n", info.PageID)
		fmt.Printf("气泡数: %d (失败 %d)\n", len(info.Regions), info.FailedRegions())
		fmt.Printf("结果目录: %s\n", app.results.GetPageDir(info.PageID))
		return nil

	case "batch":
		if flag.NArg() == 0 {
			return fmt.Errorf("--batch 需要至少一个图片或目录")
		}
		done := make(chan struct{})
		go monitorStatus(app, done)
		job, err := app.ProcessBatch(flag.Args(), mode)
		close(done)
		if err != nil {
			return err
		}
		printJob(app, job.ID)
		return nil

	case "retry":
		job, err := app.RetryFailed(mode)
		if err != nil {
			return err
		}
		if job.ID == "" {
			fmt.Println("没有可重试的失败页面")
			return nil
		}
		printJob(app, job.ID)
		return nil

	case "update":
		if *regionFlag < 0 {
			return fmt.Errorf("--update 需要 --region")
		}
		info, err := app.UpdateBubble(*updateFlag, *regionFlag, *textFlag, *fontFlag)
		if err != nil {
			return err
		}
		fmt.Printf("已更新气泡 %d: %s\n", *regionFlag, app.results.ImagePath(info.PageID, results.ImageRendered))
		return nil

	case "rerender":
		path, err := app.RerenderPage(*rerenderFlag, *outputFlag)
		if err != nil {
			return err
		}
		fmt.Printf("已渲染: %s\n", path)
		return nil

	case "list":
		pages, err := app.ListPages()
		if err != nil {
			return err
		}
		fmt.Printf("结果目录: %s\n", app.GetResultsDirectory())
		for _, p := range pages {
			fmt.Printf("  %-32s %-10s %-10s %3d 个气泡  %s\n",
				p.PageID, p.Status, p.Mode, len(p.Regions), p.ProcessedAt.Format(time.DateTime))
		}
		return nil

	case "errors":
		records := app.ListErrors()
		for _, r := range records {
			fmt.Printf("  %s\n    阶段: %s  错误码: %s  重试: %d  可重试: %v\n    %s\n",
				r.Input, errors.GetStageDisplayName(r.Stage), r.Code, r.RetryCount, r.CanRetry, r.ErrorMsg)
		}
		if *outputFlag != "" {
			if err := app.ExportFailedInputs(*outputFlag); err != nil {
				return err
			}
			fmt.Printf("已导出 %d 个失败输入到 %s\n", len(records), *outputFlag)
		}
		return nil

	case "test-api":
		out, err := app.TestAPIConnection(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("翻译测试成功: こんにちは -> %s\n", out)
		return nil
	}
	return fmt.Errorf("unknown command %s", command)
}

// monitorStatus prints the job status every few seconds.
func monitorStatus(app *App, done <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s := app.GetStatus()
			fmt.Printf("  状态: %s - %s\n", s.Phase, s.Message)
		}
	}
}

func printJob(app *App, jobID string) {
	job, ok := app.GetJob(jobID)
	if !ok {
		return
	}
	fmt.Println()
	fmt.Println("=== 处理完成 ===")
	fmt.Printf("任务 ID: %s\n", job.ID)
	fmt.Printf("成功: %d  失败: %d\n", len(job.PageIDs), len(job.Failed))
	for _, f := range job.Failed {
		fmt.Printf("  失败: %s\n", f)
	}
}
