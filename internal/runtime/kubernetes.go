package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"agentplane/pkg/apperr"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesConfig holds configuration for the Kubernetes backend.
type KubernetesConfig struct {
	// Namespace where agent jobs are created
	Namespace string
	// ServiceAccount for agent pods (optional)
	ServiceAccount string
	// CPU limit applied to every agent pod
	CPULimit string
}

// KubernetesIsolator runs agents as Kubernetes Jobs, one pod per
// execution. This is the strict backend for clusters without a local
// Docker daemon.
type KubernetesIsolator struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

// NewKubernetesIsolator creates the Kubernetes backend. Tries in-cluster
// configuration first, falls back to kubeconfig for local development.
func NewKubernetesIsolator(cfg KubernetesConfig) (*KubernetesIsolator, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := filepath.Join(homeDir(), ".kube", "config")
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.CPULimit == "" {
		cfg.CPULimit = "500m"
	}

	return &KubernetesIsolator{clientset: clientset, config: cfg}, nil
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

func (k *KubernetesIsolator) Run(ctx context.Context, spec Spec) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	jobName := fmt.Sprintf("agentplane-%d", time.Now().UnixNano())
	job := k.buildJob(jobName, spec)

	created, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to create kubernetes job", err)
	}
	defer func() {
		propagation := metav1.DeletePropagationForeground
		_ = k.clientset.BatchV1().Jobs(k.config.Namespace).Delete(context.Background(), created.Name, metav1.DeleteOptions{
			PropagationPolicy: &propagation,
		})
	}()

	start := time.Now()
	podName, err := k.waitForPod(runCtx, jobName)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return &Result{ExecutionTime: time.Since(start)},
				apperr.New(apperr.CodeExecutionTimeout, "execution timed out")
		}
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to find agent pod", err)
	}

	exitCode, oomKilled, err := k.waitForCompletion(runCtx, podName)
	elapsed := time.Since(start)
	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{ExecutionTime: elapsed},
			apperr.New(apperr.CodeExecutionTimeout, "execution timed out")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "pod watch failed", err)
	}

	output, err := k.readLogs(ctx, podName)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInfrastructure, "failed to read pod logs", err)
	}

	result := &Result{
		Output:        normalizeOutput(output),
		ExitCode:      exitCode,
		ExecutionTime: elapsed,
	}

	if oomKilled && spec.MemoryLimitMB > 0 {
		return result, apperr.Newf(apperr.CodeResourceExhausted, "agent exceeded its %dMB memory limit", spec.MemoryLimitMB)
	}
	if exitCode != 0 {
		return result, apperr.Newf(apperr.CodeExecutionRuntime, "agent exited with code %d: %s", exitCode, tail(output, 512))
	}
	return result, nil
}

func (k *KubernetesIsolator) buildJob(jobName string, spec Spec) *batchv1.Job {
	envVars := make([]corev1.EnvVar, 0, len(spec.Env)+1)
	for key, value := range spec.Env {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: value})
	}
	if len(spec.Input) > 0 {
		envVars = append(envVars, corev1.EnvVar{Name: "AGENT_INPUT", Value: string(spec.Input)})
	}

	limits := corev1.ResourceList{
		corev1.ResourceCPU: resource.MustParse(k.config.CPULimit),
	}
	if spec.MemoryLimitMB > 0 {
		limits[corev1.ResourceMemory] = resource.MustParse(fmt.Sprintf("%dMi", spec.MemoryLimitMB))
	}

	// No pod-level retries; the queue owns the retry budget.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: k.config.Namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "agentplane",
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{
						"job-name":                     jobName,
						"app.kubernetes.io/managed-by": "agentplane",
					},
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{
						{
							Name:      "agent",
							Image:     spec.Image,
							Command:   spec.Command,
							Env:       envVars,
							Resources: corev1.ResourceRequirements{Limits: limits},
						},
					},
				},
			},
		},
	}

	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}
	return job
}

// waitForPod polls until the job's pod exists and returns its name.
func (k *KubernetesIsolator) waitForPod(ctx context.Context, jobName string) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			pods, err := k.clientset.CoreV1().Pods(k.config.Namespace).List(ctx, metav1.ListOptions{
				LabelSelector: fmt.Sprintf("job-name=%s", jobName),
			})
			if err != nil {
				return "", err
			}
			if len(pods.Items) > 0 {
				return pods.Items[0].Name, nil
			}
		}
	}
}

// waitForCompletion watches the pod until it reaches a terminal phase and
// returns its exit code and whether the container was OOM-killed.
func (k *KubernetesIsolator) waitForCompletion(ctx context.Context, podName string) (int, bool, error) {
	watcher, err := k.clientset.CoreV1().Pods(k.config.Namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("metadata.name=%s", podName),
	})
	if err != nil {
		return -1, false, err
	}
	defer watcher.Stop()

	for event := range watcher.ResultChan() {
		if event.Type == watch.Error {
			return -1, false, fmt.Errorf("watch error")
		}

		pod, ok := event.Object.(*corev1.Pod)
		if !ok {
			continue
		}

		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return 0, false, nil
		case corev1.PodFailed:
			exitCode := -1
			oomKilled := false
			if len(pod.Status.ContainerStatuses) > 0 {
				if term := pod.Status.ContainerStatuses[0].State.Terminated; term != nil {
					exitCode = int(term.ExitCode)
					oomKilled = term.Reason == "OOMKilled"
				}
			}
			return exitCode, oomKilled, nil
		}
	}

	return -1, false, ctx.Err()
}

func (k *KubernetesIsolator) readLogs(ctx context.Context, podName string) ([]byte, error) {
	req := k.clientset.CoreV1().Pods(k.config.Namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: "agent",
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	return io.ReadAll(stream)
}
