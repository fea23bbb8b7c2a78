package agents

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/mcpclient"
	"github.com/HendryAvila/devteam/internal/quality"
	"github.com/HendryAvila/devteam/internal/sdkerr"
	"github.com/HendryAvila/devteam/internal/task"
)

// TypeCodebaseAnalyzer is the codebase analyzer agent type.
const TypeCodebaseAnalyzer = "codebase_analyzer"

const analyzerVersion = "1.0.0"

// Files past this count are not scanned.
const defaultScanLimit = 5000

const (
	// Larger files are counted but not read.
	maxScanFileSize = 1 << 20
	// Mock findings kept in a scan; the count covers all of them.
	maxScanViolations = 20
)

var mockDetector = func() *quality.Detector {
	d, err := quality.NewDetector(nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return d
}()

var (
	securityTasks     = []string{"security_audit", "vulnerability_scan", "security_review"}
	performanceTasks  = []string{"performance_review", "optimization_analysis", "bottleneck_detection"}
	architectureTasks = []string{"architecture_analysis", "design_review", "pattern_analysis"}
	qualityTasks      = []string{"code_review", "quality_assessment", "maintainability_analysis"}
)

type analyzer struct {
	scanLimit int
}

// NewCodebaseAnalyzer creates a codebase analyzer. Security, performance
// and architecture reviews use the Serena MCP server when connected; code
// quality reviews scan the repository directly.
func NewCodebaseAnalyzer(cfg config.AgentConfig, opts ...Option) *Agent {
	return newAgent(TypeCodebaseAnalyzer, cfg, &analyzer{scanLimit: defaultScanLimit}, opts...)
}

func (c *analyzer) capabilities() []Capability {
	return []Capability{
		{
			Name:        "security_analysis",
			Description: "Comprehensive security vulnerability scanning",
			RequiresMCP: true,
			MCPServer:   mcpclient.ServerSerena,
			TaskTypes:   securityTasks,
		},
		{
			Name:        "performance_analysis",
			Description: "Code performance analysis and bottleneck identification",
			RequiresMCP: true,
			MCPServer:   mcpclient.ServerSerena,
			TaskTypes:   performanceTasks,
		},
		{
			Name:        "architecture_review",
			Description: "System architecture and design pattern analysis",
			RequiresMCP: true,
			MCPServer:   mcpclient.ServerSerena,
			TaskTypes:   architectureTasks,
		},
		{
			Name:        "code_quality_analysis",
			Description: "General code quality and maintainability analysis",
			TaskTypes:   qualityTasks,
		},
	}
}

func (c *analyzer) taskTypes() []string {
	out := make([]string, 0, 13)
	for _, group := range [][]string{securityTasks, performanceTasks, architectureTasks, qualityTasks} {
		out = append(out, group...)
	}
	return append(out, "analysis")
}

func (c *analyzer) defaultPrompt() string { return analyzerSystemPrompt }

// serenaAnalysis describes one Serena-backed review and its fallback.
type serenaAnalysis struct {
	focus         string // security, performance, architecture
	serenaType    string
	checkSecurity bool
	confidence    float64
	fallbackConf  float64
	asks          []string
	metrics       func(map[string]any) map[string]any
}

var (
	securityAnalysis = serenaAnalysis{
		focus: "security", serenaType: "security_focused", checkSecurity: true,
		confidence: 0.90, fallbackConf: 0.70, asks: securityAsks, metrics: SecurityMetrics,
	}
	performanceAnalysis = serenaAnalysis{
		focus: "performance", serenaType: "performance",
		confidence: 0.88, fallbackConf: 0.68, asks: performanceAsks, metrics: PerformanceMetrics,
	}
	architectureAnalysis = serenaAnalysis{
		focus: "architecture", serenaType: "architecture",
		confidence: 0.85, fallbackConf: 0.65, asks: architectureAsks, metrics: ArchitectureMetrics,
	}
)

func (c *analyzer) execute(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context) (*task.Result, error) {
	repo := spec.MetadataString("repository_path")
	if repo == "" {
		return nil, sdkerr.TaskExecution("repository path not provided in task metadata").
			WithCode("MISSING_REPOSITORY_PATH")
	}
	start := timeNow()

	var (
		res *task.Result
		err error
	)
	switch {
	case slices.Contains(securityTasks, spec.TaskType):
		res, err = c.serena(ctx, a, spec, actx, repo, securityAnalysis)
	case slices.Contains(performanceTasks, spec.TaskType):
		res, err = c.serena(ctx, a, spec, actx, repo, performanceAnalysis)
	case slices.Contains(architectureTasks, spec.TaskType):
		res, err = c.serena(ctx, a, spec, actx, repo, architectureAnalysis)
	default:
		res, err = c.quality(ctx, a, spec, actx, repo)
	}
	if err != nil {
		return nil, sdkerr.Wrap(sdkerr.KindTaskExecution, err, "code analysis task execution failed")
	}

	res.Metadata["repository_path"] = repo
	res.Metadata["task_type"] = spec.TaskType
	res.Metadata["analysis_duration"] = timeNow().Sub(start).Seconds()
	res.Metadata["analyzer_version"] = analyzerVersion
	return res, nil
}

func (c *analyzer) serena(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context, repo string, sa serenaAnalysis) (*task.Result, error) {
	data, err := a.callMCP(ctx, mcpclient.ServerSerena, "analyze_code", map[string]any{
		"repository_path":     repo,
		"analysis_type":       sa.serenaType,
		"include_suggestions": true,
		"check_security":      sa.checkSecurity,
		"file_patterns":       []string{"**/*.go", "**/*.py", "**/*.js", "**/*.ts", "**/*.java"},
		"exclude_patterns":    []string{"**/test/**", "**/node_modules/**", "**/.git/**", "**/vendor/**"},
	})
	if err != nil {
		if sdkerr.KindOf(err) != sdkerr.KindMCPServer {
			return nil, err
		}
		a.logger.Info("Serena unavailable, using fallback analysis",
			zap.String("focus", sa.focus), zap.Error(err))
		return c.fallback(ctx, a, spec, actx, repo, sa)
	}

	content, err := a.callLLM(ctx, actx, serenaSynthesisPrompt(sa.focus, spec.TaskType, repo, data, sa.asks))
	if err != nil {
		return nil, err
	}
	return a.result(spec, content, sa.confidence, nil, map[string]any{
		"analysis_method":     "serena_" + sa.focus,
		"serena_data":         data,
		sa.focus + "_metrics": sa.metrics(data),
		"analysis_type":       sa.focus,
	}), nil
}

func (c *analyzer) fallback(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context, repo string, sa serenaAnalysis) (*task.Result, error) {
	scan, err := ScanRepository(repo, c.scanLimit)
	if err != nil {
		// The path may only exist on the Serena host.
		a.logger.Debug("repository scan unavailable", zap.String("repository", repo), zap.Error(err))
		scan = nil
	}
	content, err := a.callLLM(ctx, actx, fallbackAnalysisPrompt(sa.focus, repo, scan, sa.asks))
	if err != nil {
		return nil, err
	}
	meta := map[string]any{
		"analysis_method": "fallback_" + sa.focus,
		"analysis_type":   sa.focus,
		"fallback_used":   true,
	}
	if scan != nil {
		meta["repository_scan"] = scan
	}
	return a.result(spec, content, sa.fallbackConf, nil, meta), nil
}

func (c *analyzer) quality(ctx context.Context, a *Agent, spec task.Spec, actx *task.Context, repo string) (*task.Result, error) {
	scan, err := ScanRepository(repo, c.scanLimit)
	if err != nil {
		return nil, err
	}
	content, err := a.callLLM(ctx, actx, codeQualityPrompt(repo, spec.TaskType, scan))
	if err != nil {
		return nil, err
	}
	return a.result(spec, content, 0.80, nil, map[string]any{
		"analysis_method": "repository_scan",
		"quality_metrics": QualityMetrics(scan),
		"repository_scan": scan,
		"analysis_type":   "quality",
	}), nil
}

// SecurityMetrics counts vulnerabilities by severity in a Serena response
// (findings.security.vulnerabilities[].severity).
func SecurityMetrics(data map[string]any) map[string]any {
	m := map[string]any{
		"total_vulnerabilities": 0,
		"critical_count":        0,
		"high_count":            0,
		"medium_count":          0,
		"low_count":             0,
		"security_score":        0.0,
	}
	sec := findings(data, "security")
	if sec == nil {
		return m
	}
	vulns, _ := sec["vulnerabilities"].([]any)
	counts := map[string]int{}
	for _, v := range vulns {
		sev := "low"
		if vm, ok := v.(map[string]any); ok {
			if s, ok := vm["severity"].(string); ok {
				sev = strings.ToLower(s)
			}
		}
		switch sev {
		case "critical", "high", "medium":
		default:
			sev = "low"
		}
		counts[sev]++
	}
	m["total_vulnerabilities"] = len(vulns)
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		m[sev+"_count"] = counts[sev]
	}
	if s, ok := number(sec["security_score"]); ok {
		m["security_score"] = s
	}
	return m
}

// PerformanceMetrics extracts bottleneck count and scores from
// findings.performance.
func PerformanceMetrics(data map[string]any) map[string]any {
	m := map[string]any{
		"total_bottlenecks": 0,
		"performance_score": 0.0,
		"complexity_score":  0.0,
	}
	perf := findings(data, "performance")
	if perf == nil {
		return m
	}
	if b, ok := perf["bottlenecks"].([]any); ok {
		m["total_bottlenecks"] = len(b)
	}
	for _, k := range []string{"performance_score", "complexity_score"} {
		if s, ok := number(perf[k]); ok {
			m[k] = s
		}
	}
	return m
}

// ArchitectureMetrics extracts pattern names and scores from
// findings.architecture.
func ArchitectureMetrics(data map[string]any) map[string]any {
	m := map[string]any{
		"architecture_score":    0.0,
		"design_patterns_found": []string{},
		"coupling_score":        0.0,
		"cohesion_score":        0.0,
	}
	arch := findings(data, "architecture")
	if arch == nil {
		return m
	}
	for _, k := range []string{"architecture_score", "coupling_score", "cohesion_score"} {
		if s, ok := number(arch[k]); ok {
			m[k] = s
		}
	}
	if ps, ok := arch["patterns"].([]any); ok {
		names := make([]string, 0, len(ps))
		for _, p := range ps {
			name := "unknown"
			if pm, ok := p.(map[string]any); ok {
				if n, ok := pm["pattern"].(string); ok {
					name = n
				}
			}
			names = append(names, name)
		}
		m["design_patterns_found"] = names
	}
	return m
}

func findings(data map[string]any, key string) map[string]any {
	f, _ := data["findings"].(map[string]any)
	if f == nil {
		return nil
	}
	out, _ := f[key].(map[string]any)
	return out
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// ─── Repository scan ────────────────────────────────────────────────────────

// RepoScan summarizes the files under a repository root.
type RepoScan struct {
	Root             string         `json:"root"`
	Files            int            `json:"files"`
	SourceFiles      int            `json:"source_files"`
	TestFiles        int            `json:"test_files"`
	DocFiles         int            `json:"doc_files"`
	Lines            int            `json:"lines"`
	CommentLines     int            `json:"comment_lines"`
	Languages        map[string]int `json:"languages"`
	LargestFile      string         `json:"largest_file,omitempty"`
	LargestFileLines int            `json:"largest_file_lines"`
	HasReadme        bool           `json:"has_readme"`
	Truncated        bool           `json:"truncated"`
	// MockViolations are mock or placeholder findings in non-test source.
	MockViolations     []quality.Violation `json:"mock_violations,omitempty"`
	MockViolationCount int                 `json:"mock_violation_count"`
}

var languageByExt = map[string]string{
	".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
	".ts": "typescript", ".tsx": "typescript", ".java": "java", ".rb": "ruby",
	".rs": "rust", ".c": "c", ".h": "c", ".cc": "cpp", ".cpp": "cpp",
	".cs": "csharp", ".php": "php", ".kt": "kotlin", ".swift": "swift",
	".scala": "scala", ".sh": "shell", ".sql": "sql",
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true, ".venv": true,
	"venv": true, "__pycache__": true, "dist": true, "build": true, "target": true,
}

// ScanRepository walks root counting source, test and documentation files
// and comment density, and runs mock detection on non-test source. At
// most limit files are read.
func ScanRepository(root string, limit int) (*RepoScan, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, sdkerr.Validation("repository path %s is not accessible: %v", root, err).
			WithDetail("repository_path", root)
	}
	if !info.IsDir() {
		return nil, sdkerr.Validation("repository path %s is not a directory", root).
			WithDetail("repository_path", root)
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}

	scan := &RepoScan{Root: root, Languages: map[string]int{}}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if scan.Files >= limit {
			scan.Truncated = true
			return filepath.SkipAll
		}
		scan.Files++

		name := d.Name()
		lower := strings.ToLower(name)
		ext := strings.ToLower(filepath.Ext(name))
		if strings.HasPrefix(lower, "readme") {
			scan.HasReadme = true
		}
		if ext == ".md" || ext == ".rst" || ext == ".txt" {
			scan.DocFiles++
			return nil
		}
		lang, ok := languageByExt[ext]
		if !ok {
			return nil
		}
		scan.SourceFiles++
		scan.Languages[lang]++
		isTest := isTestFile(path, lower)
		if isTest {
			scan.TestFiles++
		}

		data := readSource(path)
		rel, _ := filepath.Rel(root, path)
		lines, comments := countLines(data)
		scan.Lines += lines
		scan.CommentLines += comments
		if lines > scan.LargestFileLines {
			scan.LargestFile = rel
			scan.LargestFileLines = lines
		}
		if !isTest && data != nil {
			found := mockDetector.DetectStatic(string(data), rel)
			scan.MockViolationCount += len(found)
			if room := maxScanViolations - len(scan.MockViolations); room > 0 {
				scan.MockViolations = append(scan.MockViolations, found[:min(room, len(found))]...)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scan, nil
}

func isTestFile(path, lowerName string) bool {
	if strings.HasSuffix(lowerName, "_test.go") ||
		strings.HasPrefix(lowerName, "test_") ||
		strings.Contains(lowerName, ".test.") ||
		strings.Contains(lowerName, ".spec.") ||
		strings.HasSuffix(lowerName, "test.java") {
		return true
	}
	sep := string(filepath.Separator)
	return strings.Contains(path, sep+"tests"+sep) || strings.Contains(path, sep+"test"+sep)
}

// readSource returns the file contents, or nil when the file cannot be
// read or is too large.
func readSource(path string) []byte {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxScanFileSize {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return data
}

func countLines(data []byte) (lines, comments int) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines++
		for _, p := range []string{"//", "#", "/*", "*", "--", `"""`} {
			if strings.HasPrefix(line, p) {
				comments++
				break
			}
		}
	}
	return lines, comments
}

// QualityMetrics derives 0..1 scores from a scan: documentation from
// comment density and a README, testing from the test to source file
// ratio, size from the average file length.
func QualityMetrics(scan *RepoScan) map[string]any {
	var commentRatio, testRatio, avgLines float64
	prod := scan.SourceFiles - scan.TestFiles
	if scan.Lines > 0 {
		commentRatio = float64(scan.CommentLines) / float64(scan.Lines)
	}
	if prod > 0 {
		testRatio = float64(scan.TestFiles) / float64(prod)
	}
	if scan.SourceFiles > 0 {
		avgLines = float64(scan.Lines) / float64(scan.SourceFiles)
	}

	doc := math.Min(1, commentRatio*4)
	if scan.HasReadme {
		doc = math.Min(1, doc+0.2)
	}
	testing := math.Min(1, testRatio)
	size := 1.0
	if avgLines > 300 {
		size = 300 / avgLines
	}
	if scan.SourceFiles == 0 {
		size = 0
	}

	return map[string]any{
		"comment_ratio":         round2(commentRatio),
		"test_ratio":            round2(testRatio),
		"average_file_lines":    round2(avgLines),
		"documentation_score":   round2(doc),
		"testing_score":         round2(testing),
		"maintainability_score": round2(size),
		"overall_quality_score": round2((doc + testing + size) / 3),
		"mock_violations":       scan.MockViolationCount,
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
